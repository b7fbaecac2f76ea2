package chain

import (
	"context"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
)

const keysPageSize = 256

// GetRuntimeVersion returns the runtime version at the best block
func GetRuntimeVersion(ctx context.Context, c Caller) (RuntimeVersion, error) {
	var version RuntimeVersion
	if err := c.Call(ctx, "state_getRuntimeVersion", nil, &version); err != nil {
		return RuntimeVersion{}, err
	}
	return version, nil
}

// GetStorage reads a single storage value, ok is false when the key holds nothing
func GetStorage(ctx context.Context, c Caller, key storage.Key) (value []byte, ok bool, err error) {
	var raw *string
	if err := c.Call(ctx, "state_getStorage", []any{key.Hex()}, &raw); err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	value, err = storage.DecodeHex(*raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// GetKeys lists every storage key under prefix, page by page
func GetKeys(ctx context.Context, c Caller, prefix storage.Key) ([]storage.Key, error) {
	var keys []storage.Key
	var startKey any
	for {
		var page []string
		params := []any{prefix.Hex(), keysPageSize}
		if startKey != nil {
			params = append(params, startKey)
		}
		if err := c.Call(ctx, "state_getKeysPaged", params, &page); err != nil {
			return nil, err
		}
		for _, k := range page {
			key, err := storage.ParseKey(k)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		if len(page) < keysPageSize {
			return keys, nil
		}
		startKey = page[len(page)-1]
	}
}

// QueryStorageAt reads a batch of keys at the best block
func QueryStorageAt(ctx context.Context, c Caller, keys []storage.Key) ([]StorageChange, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	hexKeys := make([]string, len(keys))
	for i, key := range keys {
		hexKeys[i] = key.Hex()
	}
	var sets []StorageChangeSet
	if err := c.Call(ctx, "state_queryStorageAt", []any{hexKeys}, &sets); err != nil {
		return nil, err
	}
	var changes []StorageChange
	for _, set := range sets {
		changes = append(changes, set.Changes...)
	}
	return changes, nil
}

// StateCall invokes a runtime api with SCALE encoded arguments
func StateCall(ctx context.Context, c Caller, method string, args []byte) ([]byte, error) {
	var raw string
	if err := c.Call(ctx, "state_call", []any{method, storage.EncodeHex(args)}, &raw); err != nil {
		return nil, err
	}
	out, err := storage.DecodeHex(raw)
	if err != nil {
		return nil, fmt.Errorf("state_call %s: %w", method, err)
	}
	return out, nil
}
