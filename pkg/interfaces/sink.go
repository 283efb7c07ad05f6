package interfaces

import (
	"context"

	"syncdeck/pkg/types"
)

// ActionSink receives forwarded experiment_action events. The JSONL
// log/export pipeline behind it is an external collaborator; the sync
// core only fans events out and hands them over.
// FUNCTIONAL DISCOVERY: Sink failures never affect room delivery - the
// router logs and continues.
type ActionSink interface {
	RecordAction(ctx context.Context, event *types.ExperimentEvent) error
}
