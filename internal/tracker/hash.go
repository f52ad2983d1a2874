package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cmip-ref/ref-go/internal/domain"
)

// DatasetHash fingerprints a group by its instance ids. The ids are sorted
// and length-prefixed, so dataset order does not matter and no two distinct
// id sets share an encoding.
func DatasetHash(datasets domain.Catalog) string {
	h := sha256.New()
	for _, id := range datasets.InstanceIDs() {
		writeComponent(h, id)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeComponent(w io.Writer, s string) {
	_, _ = fmt.Fprintf(w, "%d:", len(s))
	_, _ = io.WriteString(w, s)
}
