// ABOUTME: Localized user-facing message catalog with TOML override support
// ABOUTME: Defaults are the Portuguese strings the support flow has always used

package messages

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Catalog is the set of user-facing strings. %s placeholders receive the
// mention of the user being addressed.
type Catalog struct {
	// Ack is posted when a synchronous request is accepted for processing.
	Ack string `toml:"ack"`
	// AckDeferred is posted when an asynchronous request was handed to the workflow.
	AckDeferred string `toml:"ack_deferred"`

	// Prompt asks whether the answer resolved the problem.
	Prompt string `toml:"prompt"`
	// PromptWithSupport adds the human-help option, offered from the second
	// completed round-trip onward.
	PromptWithSupport string `toml:"prompt_with_support"`

	// Closed is the pinned closing marker.
	Closed string `toml:"closed"`
	// Reopened acknowledges a "not resolved" reaction before unlocking.
	Reopened string `toml:"reopened"`
	// Escalated tells the user a human will take over.
	Escalated string `toml:"escalated"`
	// EscalationNotice is posted to the support channel; placeholders receive
	// the thread reference and the user mention.
	EscalationNotice string `toml:"escalation_notice"`

	// ApologyTimeout, ApologyTransport and ApologyInternal are the failure
	// replies; the store stays untouched so re-sending retries.
	ApologyTimeout   string `toml:"apology_timeout"`
	ApologyTransport string `toml:"apology_transport"`
	ApologyInternal  string `toml:"apology_internal"`

	// ModerationBlocked is posted when the pre-dispatch moderation gate flags
	// the message.
	ModerationBlocked string `toml:"moderation_blocked"`

	// SystemPhrases are bot-message prefixes excluded from backend history.
	SystemPhrases []string `toml:"system_phrases"`
}

// Default returns the built-in Portuguese catalog.
func Default() *Catalog {
	return &Catalog{
		Ack:               "Solicitação recebida, analisando sua pergunta...",
		AckDeferred:       "Processando sua solicitação!",
		Prompt:            "Isso resolveu seu problema?\n ✅ Sim  ❌ Não\n\n",
		PromptWithSupport: "Isso resolveu seu problema?\n ✅ Sim  ❌ Não  💬 Preciso de ajuda\n\n",
		Closed:            "**Atendimento encerrado**",
		Reopened:          "Ok 👍 Pode mandar mais detalhes sobre o problema.",
		Escalated:         "Encaminhei sua conversa para a equipe de suporte. Alguém vai te atender por aqui. 💬",
		EscalationNotice:  "🚨 A conversa %s precisa de atendimento humano (solicitado por %s).",
		ApologyTimeout:    "Sua solicitação levou tempo demais para ser processada. Tente novamente. %s",
		ApologyTransport:  "Não foi possível analisar sua pergunta. Tente novamente. %s",
		ApologyInternal:   "Erro ao processar sua solicitação. Tente novamente. %s",
		ModerationBlocked: "Sua mensagem foi bloqueada pela moderação e este atendimento foi encerrado.",
		SystemPhrases: []string{
			"Solicitação recebida",
			"Processando sua solicitação!",
			"Isso resolveu",
			"Ok 👍",
			"**Atendimento encerrado**",
			"Encaminhei sua conversa",
		},
	}
}

// Load returns the default catalog with any fields present in the TOML file
// at path overriding it. An empty path returns the defaults unchanged.
func Load(path string) (*Catalog, error) {
	cat := Default()
	if path == "" {
		return cat, nil
	}
	if _, err := toml.DecodeFile(path, cat); err != nil {
		return nil, fmt.Errorf("loading message catalog: %w", err)
	}
	return cat, nil
}
