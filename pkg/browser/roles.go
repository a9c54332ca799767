package browser

import "strings"

// roleClass groups ARIA roles by how the snapshot treats them.
type roleClass uint8

const (
	roleUnknown roleClass = iota
	// roleInteractive always gets a ref.
	roleInteractive
	// roleContent gets a ref only when named.
	roleContent
	// roleStructural never gets a ref; compact mode drops it when unnamed.
	roleStructural
)

var roleClasses = map[string]roleClass{
	"button":           roleInteractive,
	"link":             roleInteractive,
	"textbox":          roleInteractive,
	"checkbox":         roleInteractive,
	"radio":            roleInteractive,
	"combobox":         roleInteractive,
	"listbox":          roleInteractive,
	"menuitem":         roleInteractive,
	"menuitemcheckbox": roleInteractive,
	"menuitemradio":    roleInteractive,
	"option":           roleInteractive,
	"searchbox":        roleInteractive,
	"slider":           roleInteractive,
	"spinbutton":       roleInteractive,
	"switch":           roleInteractive,
	"tab":              roleInteractive,
	"treeitem":         roleInteractive,

	"heading":      roleContent,
	"cell":         roleContent,
	"gridcell":     roleContent,
	"columnheader": roleContent,
	"rowheader":    roleContent,
	"listitem":     roleContent,
	"article":      roleContent,
	"region":       roleContent,
	"main":         roleContent,
	"navigation":   roleContent,
	"banner":       roleContent,
	"contentinfo":  roleContent,
	"dialog":       roleContent,
	"form":         roleContent,
	"img":          roleContent,
	"search":       roleContent,

	"generic":      roleStructural,
	"group":        roleStructural,
	"list":         roleStructural,
	"table":        roleStructural,
	"row":          roleStructural,
	"rowgroup":     roleStructural,
	"grid":         roleStructural,
	"treegrid":     roleStructural,
	"menu":         roleStructural,
	"menubar":      roleStructural,
	"toolbar":      roleStructural,
	"tablist":      roleStructural,
	"tree":         roleStructural,
	"directory":    roleStructural,
	"document":     roleStructural,
	"application":  roleStructural,
	"presentation": roleStructural,
	"none":         roleStructural,
}

func classOf(role string) roleClass {
	return roleClasses[role]
}

// IsInteractive reports whether role is an element users act on.
func IsInteractive(role string) bool { return classOf(role) == roleInteractive }

// IsContent reports whether role is a meaningful content element.
func IsContent(role string) bool { return classOf(role) == roleContent }

// IsStructural reports whether role is a layout/grouping element.
func IsStructural(role string) bool { return classOf(role) == roleStructural }

// IsKnownRole reports whether token names an ARIA role the selector
// grammar accepts as a bare role lookup ("button", "Link", ...).
func IsKnownRole(token string) bool {
	c := classOf(strings.ToLower(token))
	return c == roleInteractive || c == roleContent
}
