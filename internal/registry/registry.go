// Package registry manages the provider's public settings: the about text,
// the address and the fixed set of price tiers.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"appointbot/internal/clock"
	"appointbot/internal/models"
)

// Update keywords recognized in admin free text.
const (
	KeywordPrice   = "price"
	KeywordAddress = "local"
	KeywordInfo    = "info"
)

var priceTokenRe = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)

// InvalidUpdateError reports a malformed settings update.
type InvalidUpdateError struct {
	Reason string
}

func (e *InvalidUpdateError) Error() string {
	return "invalid settings update: " + e.Reason
}

// SettingsStore is the persistence contract for the settings singleton.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateAbout(ctx context.Context, text string, now time.Time) error
	UpdateAddress(ctx context.Context, text string, now time.Time) error
	UpdatePrices(ctx context.Context, prices []string, now time.Time) error
}

// Service parses keyword-prefixed update text and applies it wholesale to the
// settings record. Each update overwrites its field completely.
type Service struct {
	store      SettingsStore
	clk        clock.Clock
	priceCount int
	logger     zerolog.Logger
}

// NewService builds a registry expecting exactly priceCount price tiers.
func NewService(store SettingsStore, clk clock.Clock, priceCount int, logger zerolog.Logger) *Service {
	if priceCount < 1 {
		priceCount = 1
	}
	return &Service{
		store:      store,
		clk:        clk,
		priceCount: priceCount,
		logger:     logger.With().Str("component", "registry").Logger(),
	}
}

// Get returns the current settings.
func (s *Service) Get(ctx context.Context) (*models.Settings, error) {
	return s.store.GetSettings(ctx)
}

// Apply parses "<keyword> <rest>" and updates the matching settings field.
// It returns the keyword that matched. Unknown or incomplete input fails
// with InvalidUpdateError and leaves the settings untouched.
func (s *Service) Apply(ctx context.Context, text string) (string, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", &InvalidUpdateError{Reason: "empty input"}
	}

	keyword := strings.ToLower(fields[0])
	rest := fields[1:]
	if len(rest) == 0 {
		return "", &InvalidUpdateError{Reason: fmt.Sprintf("expected a value after %q", keyword)}
	}

	var err error
	switch keyword {
	case KeywordPrice:
		err = s.updatePrices(ctx, rest)
	case KeywordAddress:
		err = s.store.UpdateAddress(ctx, strings.Join(rest, " "), s.clk.Now())
	case KeywordInfo:
		err = s.store.UpdateAbout(ctx, strings.Join(rest, " "), s.clk.Now())
	default:
		return "", &InvalidUpdateError{Reason: fmt.Sprintf("unknown keyword %q", fields[0])}
	}
	if err != nil {
		return "", err
	}

	s.logger.Info().Str("field", keyword).Msg("settings updated")
	return keyword, nil
}

func (s *Service) updatePrices(ctx context.Context, tokens []string) error {
	if len(tokens) != s.priceCount {
		return &InvalidUpdateError{
			Reason: fmt.Sprintf("expected %d price values, got %d", s.priceCount, len(tokens)),
		}
	}
	for _, token := range tokens {
		if !priceTokenRe.MatchString(token) {
			return &InvalidUpdateError{Reason: fmt.Sprintf("price value %q is not numeric", token)}
		}
	}
	return s.store.UpdatePrices(ctx, tokens, s.clk.Now())
}
