package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
)

// maxBlocksBody bounds a POST /blocks payload.
const maxBlocksBody = 32 << 20

// ingestTimeout bounds the wait for queue capacity.
const ingestTimeout = 5 * time.Second

// BlockDependencies defines the interface for block ingestion.
type BlockDependencies interface {
	Ingest(ctx context.Context, blocks []codec.RawBlock) (string, error)
}

// BlocksHandler handles block ingestion requests.
type BlocksHandler struct {
	deps BlockDependencies
}

// NewBlocksHandler creates a new blocks handler.
func NewBlocksHandler(deps BlockDependencies) *BlocksHandler {
	return &BlocksHandler{deps: deps}
}

type ackResponse struct {
	Status  string `json:"status"`
	BatchID string `json:"batch_id"`
	Blocks  int    `json:"blocks"`
}

// HandlePostBlocks handles POST /blocks requests. The body is a JSON array
// of raw blocks in chain order; they are processed as one batch.
func (h *BlocksHandler) HandlePostBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var blocks []codec.RawBlock
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBlocksBody)).Decode(&blocks); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if len(blocks) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: no blocks", ErrBadRequest))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()
	id, err := h.deps.Ingest(ctx, blocks)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", BatchID: id, Blocks: len(blocks)})
}
