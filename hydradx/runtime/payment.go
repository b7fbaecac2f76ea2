package runtime

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain/storage"
)

const queryCallInfo = "TransactionPaymentCallApi_query_call_info"

// CallInfo is the dispatch info and native fee of a call.
type CallInfo struct {
	RefTime    uint64
	ProofSize  uint64
	Class      uint8
	PartialFee math.Int
}

// QueryCallInfo estimates the native fee of call without a signed extrinsic
func QueryCallInfo(ctx context.Context, caller chain.Caller, call Call) (CallInfo, error) {
	encoded := call.Encode()
	w := storage.NewWriter()
	if err := w.Raw(encoded); err != nil {
		return CallInfo{}, err
	}
	if err := w.U32(uint32(len(encoded))); err != nil {
		return CallInfo{}, err
	}
	out, err := chain.StateCall(ctx, caller, queryCallInfo, w.Bytes())
	if err != nil {
		return CallInfo{}, fmt.Errorf("failed to query fee of %s: %w", call.Name, err)
	}
	return DecodeCallInfo(out)
}

// DecodeCallInfo decodes RuntimeDispatchInfo{weight{ref_time, proof_size}, class, partial_fee}
func DecodeCallInfo(data []byte) (CallInfo, error) {
	r := storage.NewReader(data)
	refTime, err := r.Compact()
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info ref time: %w", err)
	}
	proofSize, err := r.Compact()
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info proof size: %w", err)
	}
	class, err := r.U8()
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info class: %w", err)
	}
	fee, err := r.U128()
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info partial fee: %w", err)
	}
	return CallInfo{RefTime: refTime.Uint64(), ProofSize: proofSize.Uint64(), Class: class, PartialFee: fee}, nil
}
