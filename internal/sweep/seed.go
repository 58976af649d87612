package sweep

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DeriveSeed returns the generator seed for the run id under base. The seed
// depends only on base and id, never on scheduling.
func DeriveSeed(base int64, id string) int64 {
	return int64(xxhash.Sum64String(strconv.FormatInt(base, 10) + "/" + id))
}
