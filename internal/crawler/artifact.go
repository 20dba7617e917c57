package crawler

import (
	"path"
	"strconv"
	"strings"
)

// MaxNameAttempts bounds how many suffixed names an ArtifactStore tries
// before giving up on a taken name.
const MaxNameAttempts = 100

// CandidateName is the name an ArtifactStore tries on the given attempt when
// name is already taken. Attempt 0 is name itself; later attempts insert
// "_<attempt>" before the extension.
func CandidateName(name string, attempt int) string {
	if attempt <= 0 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(attempt) + ext
}
