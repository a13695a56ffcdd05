package browser

import "fmt"

// Role identifies which side of the comparison a session serves.
type Role string

const (
	RoleTreatment Role = "treatment"
	RoleBaseline  Role = "baseline"
)

// Roles lists both roles in visit order.
var Roles = []Role{RoleTreatment, RoleBaseline}

// Rect describes a window rectangle in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point describes a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// LaunchOptions configures a single browser launch.
type LaunchOptions struct {
	Role Role
	// ExtensionPath is loaded into the browser before Launch returns.
	ExtensionPath string
}
