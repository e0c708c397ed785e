package vectorstore

import (
	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
)

// NewStore builds the configured vector backend.
func NewStore(cfg config.VectorStoreConfig) (vector.Store, error) {
	switch cfg.Type {
	case "hnsw":
		return NewLocalHNSW(cfg)
	case "remote":
		return NewRemoteCollection(cfg), nil
	default:
		return nil, fault.Newf(fault.KindConfigInvalid, "unknown vector_store.type %q", cfg.Type)
	}
}
