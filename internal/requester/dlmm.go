package requester

import (
	"context"
	"errors"
	"fmt"

	"github.com/torosent/lopnur/internal/model"
)

// ErrOwnerRequired is returned by getDLMMPositions when no owner wallet is
// configured.
var ErrOwnerRequired = errors.New("getDLMMPositions: owner wallet not configured")

// positionOwnerOffset is where the owner key sits in a DLMM position
// account: after the 8 byte discriminator and the 32 byte pair key.
const positionOwnerOffset = 40

// dlmmPositions lists the DLMM position accounts of one owner with
// getProgramAccounts. Account data is sliced to zero bytes so the call
// measures the index lookup rather than payload transfer.
type dlmmPositions struct {
	rpc       *rpcClient
	owner     string
	programID string
}

func (d *dlmmPositions) params() []any {
	return []any{
		d.programID,
		map[string]any{
			"encoding":  "base64",
			"dataSlice": map[string]int{"offset": 0, "length": 0},
			"filters": []any{
				map[string]any{
					"memcmp": map[string]any{"offset": positionOwnerOffset, "bytes": d.owner},
				},
			},
		},
	}
}

func (d *dlmmPositions) Do(ctx context.Context, p model.Provider) error {
	if d.owner == "" {
		return ErrOwnerRequired
	}
	result, err := d.rpc.call(ctx, p.Endpoint, "getProgramAccounts", d.params()...)
	if err != nil {
		return err
	}
	if !result.IsArray() {
		return fmt.Errorf("getProgramAccounts: unexpected result %s", result.Raw)
	}
	return nil
}
