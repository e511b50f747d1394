package auth

// Permission tokens. These strings are a stable wire format.
const (
	PermMealsRead       = "meals:read"
	PermMealsWrite      = "meals:write"
	PermMealsDelete     = "meals:delete"
	PermCategoriesWrite = "categories:write"

	PermOrdersRead   = "orders:read"
	PermOrdersWrite  = "orders:write"
	PermOrdersDelete = "orders:delete"
	PermOrdersRefund = "orders:refund"

	PermAnalyticsRead   = "analytics:read"
	PermAnalyticsExport = "analytics:export"

	PermUsersRead   = "users:read"
	PermUsersWrite  = "users:write"
	PermUsersDelete = "users:delete"

	PermSettingsRead  = "settings:read"
	PermSettingsWrite = "settings:write"

	PermSystemRead  = "system:read"
	PermSystemWrite = "system:write"

	PermAuditRead = "audit:read"
)

// Vocabulary lists every permission token known to the service.
var Vocabulary = []string{
	PermMealsRead, PermMealsWrite, PermMealsDelete, PermCategoriesWrite,
	PermOrdersRead, PermOrdersWrite, PermOrdersDelete, PermOrdersRefund,
	PermAnalyticsRead, PermAnalyticsExport,
	PermUsersRead, PermUsersWrite, PermUsersDelete,
	PermSettingsRead, PermSettingsWrite,
	PermSystemRead, PermSystemWrite,
	PermAuditRead,
}

// grant pairs a capability test with the tokens it contributes. Order matters:
// PermissionsFor emits tokens in this order.
type grant struct {
	has    func(Capabilities) bool
	tokens []string
}

var grants = []grant{
	{func(c Capabilities) bool { return c.ViewMeals }, []string{PermMealsRead}},
	{func(c Capabilities) bool { return c.CreateMeals || c.UpdateMeals }, []string{PermMealsWrite}},
	{func(c Capabilities) bool { return c.DeleteMeals }, []string{PermMealsDelete}},
	{func(c Capabilities) bool { return c.ManageCategories }, []string{PermCategoriesWrite}},
	{func(c Capabilities) bool { return c.ViewOrders }, []string{PermOrdersRead}},
	{func(c Capabilities) bool { return c.UpdateOrderStatus }, []string{PermOrdersWrite}},
	{func(c Capabilities) bool { return c.CancelOrders }, []string{PermOrdersDelete}},
	{func(c Capabilities) bool { return c.RefundOrders }, []string{PermOrdersRefund}},
	{func(c Capabilities) bool { return c.ViewAnalytics }, []string{PermAnalyticsRead}},
	{func(c Capabilities) bool { return c.ExportReports }, []string{PermAnalyticsExport}},
	{func(c Capabilities) bool { return c.ViewUsers }, []string{PermUsersRead}},
	{func(c Capabilities) bool { return c.ManageUsers }, []string{PermUsersWrite, PermUsersDelete}},
	{func(c Capabilities) bool { return c.ManageSettings }, []string{PermSettingsRead, PermSettingsWrite}},
	{func(c Capabilities) bool { return c.ManageIntegrations }, []string{PermSystemRead, PermSystemWrite}},
	{func(c Capabilities) bool { return c.ViewAuditLogs }, []string{PermAuditRead}},
}

// PermissionsFor expands role into its ordered permission token list.
// The result is computed fresh on every call and never cached.
func PermissionsFor(role Role) []string {
	caps := CapabilitiesFor(role)
	var perms []string
	for _, g := range grants {
		if g.has(caps) {
			perms = append(perms, g.tokens...)
		}
	}
	return perms
}
