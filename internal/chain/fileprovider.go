package chain

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// FileProvider serves snapshots from a YAML file on disk. It is the provider
// used for offline scans and fixtures: the file holds a list of Snapshot
// records, indexed here by (symbol, expiration).
type FileProvider struct {
	snapshots map[string]*Snapshot
	logger    *logrus.Logger
}

// Ensure FileProvider implements Provider at compile time.
var _ Provider = (*FileProvider)(nil)

type snapshotFile struct {
	Snapshots []Snapshot `yaml:"snapshots"`
}

// NewFileProvider loads and indexes a snapshot file. Malformed contracts are
// dropped with a warning; the chain itself is still served.
func NewFileProvider(path string, logger *logrus.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is a user-provided snapshot file
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}

	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing snapshot file: %w", err)
	}

	p := &FileProvider{
		snapshots: make(map[string]*Snapshot, len(file.Snapshots)),
		logger:    logger,
	}
	for i := range file.Snapshots {
		snap := file.Snapshots[i]
		snap.Contracts = filterContracts(snap.Contracts, logger)
		if snap.DTE == 0 {
			snap.DTE = deriveDTE(snap.Expiration)
		}
		p.snapshots[snapshotKey(snap.Symbol, snap.Expiration)] = &snap
	}
	return p, nil
}

// filterContracts drops contracts that fail structural validation.
func filterContracts(contracts []OptionContract, logger *logrus.Logger) []OptionContract {
	out := make([]OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if err := c.Validate(); err != nil {
			logger.WithError(err).Warn("dropping malformed contract")
			continue
		}
		out = append(out, c)
	}
	return out
}

func deriveDTE(expiration string) int {
	exp, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return 0
	}
	return DaysBetween(time.Now(), exp)
}

func snapshotKey(symbol, expiration string) string {
	return symbol + "|" + expiration
}

// GetSnapshot returns the snapshot for one (symbol, expiration) pair.
func (p *FileProvider) GetSnapshot(_ context.Context, symbol, expiration string) (*Snapshot, error) {
	snap, ok := p.snapshots[snapshotKey(symbol, expiration)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, symbol, expiration)
	}
	return snap, nil
}

// GetExpirations lists the expirations available for a symbol in date order.
func (p *FileProvider) GetExpirations(_ context.Context, symbol string) ([]string, error) {
	var exps []string
	for _, snap := range p.snapshots {
		if snap.Symbol == symbol {
			exps = append(exps, snap.Expiration)
		}
	}
	if len(exps) == 0 {
		return nil, fmt.Errorf("%w: no expirations for %s", ErrSnapshotNotFound, symbol)
	}
	sort.Strings(exps)
	return exps, nil
}
