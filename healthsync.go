// Package healthsync assembles the offline-first encrypted sync engine:
// key manager, encryption engine, local observation store, transport and
// orchestrator, wired from one Config.
package healthsync

import (
	"net/http"

	"go.uber.org/zap"

	"HealthSync/internal/config"
	"HealthSync/internal/crypto"
	"HealthSync/internal/keys"
	"HealthSync/internal/keystore"
	"HealthSync/internal/model"
	"HealthSync/internal/remote"
	"HealthSync/internal/store"
	"HealthSync/internal/syncer"
)

// Domain types re-exported so callers never import internal packages.
type (
	HealthObservation = model.HealthObservation
	DerivedInsight    = model.DerivedInsight
	SyncState         = model.SyncState
	EncryptedPayload  = model.EncryptedPayload
)

// Engine bundles the wired components the application layer works with.
type Engine struct {
	Keys         *keys.Manager
	Crypto       *crypto.Engine
	Observations *store.ObservationStore
	Insights     *store.MemStore[DerivedInsight]
	Orchestrator *syncer.Orchestrator
}

// New wires the engine from cfg. An explicit logger keeps tests
// deterministic; pass zap.NewNop().Sugar() to silence it.
func New(cfg *config.Config, log *zap.SugaredLogger, client *http.Client) (*Engine, error) {
	ks, err := keystore.NewFileStore(cfg.KeyDir)
	if err != nil {
		return nil, err
	}
	km := keys.NewManager(ks)
	engine := crypto.NewEngine(km)

	obs, err := store.OpenObservationStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	transport := remote.NewHTTPTransport(cfg.ServerURL, &remote.FileTokenProvider{Path: cfg.TokenFile}, client)
	orch := syncer.NewOrchestrator(obs, engine, transport, log, cfg.MaxBatchSize)

	return &Engine{
		Keys:         km,
		Crypto:       engine,
		Observations: obs,
		Insights:     store.NewMemStore[DerivedInsight](),
		Orchestrator: orch,
	}, nil
}

// Close releases the underlying observation store.
func (e *Engine) Close() error {
	return e.Observations.Close()
}
