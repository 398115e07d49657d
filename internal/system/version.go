package system

import "fmt"

var Name = "kuberbac"
var Version = "<unset>"
var Commit = "<unset>"
var Repository = "https://github.com/authzkit/kuberbac"

func PrettyInfo() string {
	return fmt.Sprintf(`
===========================================================================
Application: %s
Version %s
GOTO: %s/tree/%s
===========================================================================
`, Name, Version, Repository, Commit)
}
