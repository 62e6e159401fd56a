package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectPrefix         = "cmp"
	SubjectCatalogChanged = "catalog.changed"
)

func safeToken(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// BuildInterfaceSubject builds the request subject of an interface served
// over COMMS.
func BuildInterfaceSubject(component, iface string, major int) string {
	return fmt.Sprintf("%s.%s.%s.v%d", SubjectPrefix, safeToken(component), safeToken(iface), major)
}

// BuildEventSubject builds the subject an interface publishes event on.
func BuildEventSubject(subject, event string) string {
	return fmt.Sprintf("%s.event.%s", subject, safeToken(event))
}

// BuildCatalogChangeSubject builds a granular catalog change subject.
func BuildCatalogChangeSubject(component, iface string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCatalogChanged, safeToken(component), safeToken(iface))
}
