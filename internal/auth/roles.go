package auth

import "strings"

// Role is one of the four coarse user categories. The role alone determines
// the permission set; there are no per-user overrides.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Roles returns the closed role set ordered from least to most privileged.
func Roles() []Role {
	return []Role{RoleCustomer, RoleStaff, RoleManager, RoleAdmin}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := matrix[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes raw and reports whether it names a known role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// Capabilities is the fixed-shape capability record of a role.
type Capabilities struct {
	ViewMeals          bool `json:"view_meals"`
	CreateMeals        bool `json:"create_meals"`
	UpdateMeals        bool `json:"update_meals"`
	DeleteMeals        bool `json:"delete_meals"`
	ManageCategories   bool `json:"manage_categories"`
	ViewOrders         bool `json:"view_orders"`
	UpdateOrderStatus  bool `json:"update_order_status"`
	CancelOrders       bool `json:"cancel_orders"`
	AssignOrders       bool `json:"assign_orders"`
	RefundOrders       bool `json:"refund_orders"`
	ViewAnalytics      bool `json:"view_analytics"`
	ExportReports      bool `json:"export_reports"`
	ManageUsers        bool `json:"manage_users"`
	ViewUsers          bool `json:"view_users"`
	ManageSettings     bool `json:"manage_settings"`
	ManageIntegrations bool `json:"manage_integrations"`
	ViewAuditLogs      bool `json:"view_audit_logs"`
}

// Every cell is spelled out per role. Do not derive one role from another:
// the table is data and must stay reviewable line by line.
var matrix = map[Role]Capabilities{
	RoleCustomer: {
		ViewMeals:          true,
		CreateMeals:        false,
		UpdateMeals:        false,
		DeleteMeals:        false,
		ManageCategories:   false,
		ViewOrders:         true, // own orders only
		UpdateOrderStatus:  false,
		CancelOrders:       true, // own orders only
		AssignOrders:       false,
		RefundOrders:       false,
		ViewAnalytics:      false,
		ExportReports:      false,
		ManageUsers:        false,
		ViewUsers:          true,
		ManageSettings:     false,
		ManageIntegrations: false,
		ViewAuditLogs:      false,
	},
	RoleStaff: {
		ViewMeals:          true,
		CreateMeals:        false,
		UpdateMeals:        true,
		DeleteMeals:        false,
		ManageCategories:   false,
		ViewOrders:         true,
		UpdateOrderStatus:  true,
		CancelOrders:       true,
		AssignOrders:       false,
		RefundOrders:       false,
		ViewAnalytics:      true,
		ExportReports:      false,
		ManageUsers:        false,
		ViewUsers:          true,
		ManageSettings:     false,
		ManageIntegrations: false,
		ViewAuditLogs:      false,
	},
	RoleManager: {
		ViewMeals:          true,
		CreateMeals:        true,
		UpdateMeals:        true,
		DeleteMeals:        true,
		ManageCategories:   true,
		ViewOrders:         true,
		UpdateOrderStatus:  true,
		CancelOrders:       true,
		AssignOrders:       true,
		RefundOrders:       true,
		ViewAnalytics:      true,
		ExportReports:      true,
		ManageUsers:        true,
		ViewUsers:          true,
		ManageSettings:     true,
		ManageIntegrations: false,
		ViewAuditLogs:      true,
	},
	RoleAdmin: {
		ViewMeals:          true,
		CreateMeals:        true,
		UpdateMeals:        true,
		DeleteMeals:        true,
		ManageCategories:   true,
		ViewOrders:         true,
		UpdateOrderStatus:  true,
		CancelOrders:       true,
		AssignOrders:       true,
		RefundOrders:       true,
		ViewAnalytics:      true,
		ExportReports:      true,
		ManageUsers:        true,
		ViewUsers:          true,
		ManageSettings:     true,
		ManageIntegrations: true,
		ViewAuditLogs:      true,
	},
}

// CapabilitiesFor returns the capability record of role. Unknown roles get
// the zero record; mapping them to customer is the claims extractor's job.
func CapabilitiesFor(role Role) Capabilities {
	return matrix[role]
}
