package cohort

import (
	"context"
)

// GraphRepository loads the clinical record graph. limit caps the number of
// patients; zero or less means all of them. Patients come back in a stable
// order so repeated exports of the same source are identical.
type GraphRepository interface {
	ListPatients(ctx context.Context, limit int) ([]*Patient, error)
}
