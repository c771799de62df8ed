package store

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ratechat-backend/internal/crypto"
	"ratechat-backend/internal/models"
)

const sealedPrefix = "enc:v1:"

var _ ThreadStore = (*SealedThreadStore)(nil)

// SealedThreadStore encrypts message content and tool-call arguments before
// they reach the wrapped store. Messages written without encryption still load.
type SealedThreadStore struct {
	inner ThreadStore
	aead  cipher.AEAD
}

func NewSealedThreadStore(inner ThreadStore, aead cipher.AEAD) *SealedThreadStore {
	return &SealedThreadStore{inner: inner, aead: aead}
}

func (s *SealedThreadStore) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	sealed := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		out, err := s.seal(msg)
		if err != nil {
			return fmt.Errorf("seal message %s: %w", msg.ID, err)
		}
		sealed[i] = out
	}
	return s.inner.Append(ctx, threadID, sealed...)
}

func (s *SealedThreadStore) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	msgs, err := s.inner.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for i, msg := range msgs {
		opened, err := s.open(msg)
		if err != nil {
			return nil, fmt.Errorf("open message %s of thread %s: %w", msg.ID, threadID, err)
		}
		msgs[i] = opened
	}
	return msgs, nil
}

func (s *SealedThreadStore) seal(msg models.Message) (models.Message, error) {
	out := msg.Clone()
	var err error
	if out.Content, err = s.sealString(out.Content); err != nil {
		return out, err
	}
	for i, call := range out.ToolCalls {
		if len(call.Arguments) == 0 {
			continue
		}
		text, err := s.sealString(string(call.Arguments))
		if err != nil {
			return out, err
		}
		if out.ToolCalls[i].Arguments, err = json.Marshal(text); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *SealedThreadStore) open(msg models.Message) (models.Message, error) {
	out := msg.Clone()
	var err error
	if out.Content, err = s.openString(out.Content); err != nil {
		return out, err
	}
	for i, call := range out.ToolCalls {
		var text string
		if json.Unmarshal(call.Arguments, &text) != nil || !strings.HasPrefix(text, sealedPrefix) {
			continue
		}
		plain, err := s.openString(text)
		if err != nil {
			return out, err
		}
		out.ToolCalls[i].Arguments = json.RawMessage(plain)
	}
	return out, nil
}

func (s *SealedThreadStore) sealString(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	sealed, err := crypto.Seal(s.aead, []byte(plain))
	if err != nil {
		return "", err
	}
	return sealedPrefix + sealed, nil
}

func (s *SealedThreadStore) openString(text string) (string, error) {
	rest, ok := strings.CutPrefix(text, sealedPrefix)
	if !ok {
		return text, nil
	}
	plain, err := crypto.Open(s.aead, rest)
	switch {
	case errors.Is(err, crypto.ErrInvalidCiphertext):
		// Plain text written before encryption that happens to carry the prefix.
		return text, nil
	case err != nil:
		return "", err
	}
	return string(plain), nil
}
