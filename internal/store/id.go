package store

import "dealgraph/api/internal/util"

func newStoreID(prefix string) string {
	return util.NewID(prefix)
}
