// Package store persists session snapshots: a Redis hot copy refreshed
// after every turn and a Badger archive written when a client disconnects.
package store

import (
	"errors"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

var ErrNotFound = errors.New("store: session not found")

const keyPrefix = "session:"

func sessionKey(id string) string {
	return keyPrefix + id
}

func encode(snap orchestrator.Snapshot) ([]byte, error) {
	return sonic.Marshal(snap)
}

func decode(data []byte) (orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	err := sonic.Unmarshal(data, &snap)
	return snap, err
}
