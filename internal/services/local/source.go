package local

import (
	"context"

	"github.com/bivalvia-project/bivalvia/internal/model"
)

// ReadingSource produces one sensor sample per call. The serial-attached
// firmware is one implementation (owned by the deployment, outside this
// module); the simulator below is another. A nil reading with a nil error
// never happens: either the sample is usable or an error explains why not.
type ReadingSource interface {
	Read(ctx context.Context) (*model.Reading, error)
}
