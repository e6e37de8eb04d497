// ABOUTME: Conversation history construction for backend dispatch
// ABOUTME: Scans recent thread messages and classifies them into exchanges

package conversation

import (
	"context"
	"strings"

	"github.com/2389/helpdesk-gateway/internal/backend"
)

const (
	// historyScanLimit bounds how far back a dispatch looks.
	historyScanLimit = 50
	// systemPhraseWindow is how much of a bot message is checked against
	// the known status phrases.
	systemPhraseWindow = 60
	// minAssistantLen filters out short bot chatter (reactions text,
	// acknowledgements) that slipped past the phrase list.
	minAssistantLen = 20
)

// buildHistory scans up to historyScanLimit messages, oldest first, excluding
// the message being answered, and returns the last configured number of
// exchange pairs. Bot messages become "assistant" entries unless they match a
// known system phrase; everything else is "user".
func (s *Service) buildHistory(ctx context.Context, threadID, excludeID string) ([]backend.Exchange, error) {
	msgs, err := s.conn.History(ctx, threadID, historyScanLimit, true)
	if err != nil {
		return nil, err
	}

	var history []backend.Exchange
	for _, msg := range msgs {
		if msg.ID == excludeID || msg.Content == "" {
			continue
		}
		if msg.SenderBot {
			if len(msg.Content) <= minAssistantLen || s.isSystemPhrase(msg.Content) {
				continue
			}
			history = append(history, backend.Exchange{Role: "assistant", Content: msg.Content})
			continue
		}
		history = append(history, backend.Exchange{Role: "user", Content: msg.Content})
	}

	if max := s.exchanges * 2; len(history) > max {
		history = history[len(history)-max:]
	}
	return history, nil
}

// isSystemPhrase reports whether a bot message is one of the catalog's
// status phrases rather than an actual answer.
func (s *Service) isSystemPhrase(content string) bool {
	head := content
	if len(head) > systemPhraseWindow {
		head = head[:systemPhraseWindow]
	}
	for _, phrase := range s.catalog.SystemPhrases {
		if strings.Contains(head, phrase) {
			return true
		}
	}
	return false
}
