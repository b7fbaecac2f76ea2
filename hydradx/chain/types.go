package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
)

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// notificationMessage is a subscription push from the node.
type notificationMessage struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// subscriptionID normalises string and numeric subscription ids.
func subscriptionID(raw json.RawMessage) string {
	return strings.Trim(string(bytes.TrimSpace(raw)), `"`)
}

// Caller performs stateless JSON-RPC calls.
type Caller interface {
	Call(ctx context.Context, method string, params []any, result any) error
}

// StorageChange is one entry of a storage change set. A nil Value means the key holds no value.
type StorageChange struct {
	Key   storage.Key
	Value []byte
}

// StorageChangeSet is a state_storage notification, or one block of state_queryStorageAt.
type StorageChangeSet struct {
	Block   string
	Changes []StorageChange
}

func (s *StorageChangeSet) UnmarshalJSON(data []byte) error {
	var raw struct {
		Block   string       `json:"block"`
		Changes [][2]*string `json:"changes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Block = raw.Block
	s.Changes = make([]StorageChange, 0, len(raw.Changes))
	for _, change := range raw.Changes {
		if change[0] == nil {
			return fmt.Errorf("storage change without key")
		}
		key, err := storage.ParseKey(*change[0])
		if err != nil {
			return err
		}
		entry := StorageChange{Key: key}
		if change[1] != nil {
			value, err := storage.DecodeHex(*change[1])
			if err != nil {
				return err
			}
			entry.Value = value
		}
		s.Changes = append(s.Changes, entry)
	}
	return nil
}

// StorageHandler receives the changes of a storage subscription.
// OnReset is called when the connection drops; the subscription is re-established and
// the next OnUpdate carries the full current values again.
type StorageHandler interface {
	OnUpdate(changes StorageChangeSet)
	OnReset(err error)
}

// StorageSubscription is a live storage subscription.
type StorageSubscription interface {
	Unsubscribe(ctx context.Context) error
}

// StorageSubscriber opens batched storage subscriptions.
type StorageSubscriber interface {
	SubscribeStorage(ctx context.Context, keys []storage.Key, handler StorageHandler) (StorageSubscription, error)
}

// StatusKind is the variant of an extrinsic status update.
type StatusKind string

const (
	StatusFuture          StatusKind = "future"
	StatusReady           StatusKind = "ready"
	StatusBroadcast       StatusKind = "broadcast"
	StatusInBlock         StatusKind = "inBlock"
	StatusRetracted       StatusKind = "retracted"
	StatusFinalityTimeout StatusKind = "finalityTimeout"
	StatusFinalized       StatusKind = "finalized"
	StatusUsurped         StatusKind = "usurped"
	StatusDropped         StatusKind = "dropped"
	StatusInvalid         StatusKind = "invalid"
)

// ExtrinsicStatus is an author_extrinsicUpdate payload.
// BlockHash is set for inBlock, retracted, finalityTimeout and finalized, and holds the
// replacing extrinsic hash for usurped.
type ExtrinsicStatus struct {
	Kind      StatusKind
	BlockHash string
}

// IsFailure reports statuses after which the extrinsic will never be included.
func (s ExtrinsicStatus) IsFailure() bool {
	switch s.Kind {
	case StatusUsurped, StatusDropped, StatusInvalid, StatusFinalityTimeout:
		return true
	default:
		return false
	}
}

func (s *ExtrinsicStatus) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		s.Kind = StatusKind(plain)
		s.BlockHash = ""
		return nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid extrinsic status %s: %w", string(data), err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("invalid extrinsic status %s", string(data))
	}
	for kind, payload := range tagged {
		s.Kind = StatusKind(kind)
		s.BlockHash = ""
		var hash string
		if err := json.Unmarshal(payload, &hash); err == nil {
			s.BlockHash = hash
		}
	}
	return nil
}

// RuntimeVersion is the state_getRuntimeVersion result.
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}
