package struggle

import (
	"slices"
	"strings"
)

// Fingerprint identifies a workout by protocol, package and exercise set, ignoring order and rolled values.
// The result is safe to pass unescaped in a URL query.
func Fingerprint(protocolID, packageID string, exerciseIDs []string) string {
	if packageID == "" {
		packageID = AllPackageID
	}
	ids := slices.Clone(exerciseIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return protocolID + "/" + packageID + ":" + strings.Join(ids, ",")
}
