package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

// TokenFile returns the path where the OAuth2 token for an account address
// is stored under tokenDir.
func TokenFile(tokenDir, address string) string {
	return filepath.Join(tokenDir, address+".json")
}

// MultiSource fans Fetch calls out to one Gmail source per account, keyed by
// address. Every account keeps its own token file under tokenDir. Token
// loading never prompts: an account without a stored token fails the fetch,
// so a headless worker cannot hang waiting on a browser flow.
type MultiSource struct {
	clientID     string
	clientSecret string
	tokenDir     string
	logger       *slog.Logger

	mu      sync.Mutex
	sources map[string]*Source
}

// NewMultiSource creates a source router for the given OAuth2 client. Sources
// are built lazily on first fetch per account.
func NewMultiSource(clientID, clientSecret, tokenDir string, logger *slog.Logger) *MultiSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenDir:     tokenDir,
		logger:       logger,
		sources:      make(map[string]*Source),
	}
}

// Fetch implements service.MailSource for whichever account is asked for.
func (m *MultiSource) Fetch(ctx context.Context, account model.EmailAccount, since *time.Time) ([]model.InboundEmail, error) {
	src, err := m.sourceFor(ctx, account.Address)
	if err != nil {
		return nil, err
	}
	return src.Fetch(ctx, account, since)
}

func (m *MultiSource) sourceFor(ctx context.Context, address string) (*Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src, ok := m.sources[address]; ok {
		return src, nil
	}

	config := OAuth2Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		TokenFile:    TokenFile(m.tokenDir, address),
	}

	token, err := LoadToken(config.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s is not authenticated, run `subscout auth --address %s`", common.ErrInvalidAccount, address, address)
	}

	token, err = RefreshTokenIfNeeded(ctx, config, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMailConnection, err)
	}

	src, err := NewSourceFromToken(ctx, config, token, m.logger)
	if err != nil {
		return nil, err
	}

	m.sources[address] = src
	return src, nil
}
