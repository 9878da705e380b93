package shared

// messages 错误键对应的提示文案
var messages = map[string]string{
	"error.bad_request":               "invalid request",
	"error.unauthorized":              "unauthorized",
	"error.forbidden":                 "forbidden",
	"error.not_found":                 "resource not found",
	"error.too_many_requests":         "too many requests",
	"error.internal":                  "internal error",
	"error.admin_id_invalid":          "invalid admin id",
	"error.admin_id_type_invalid":     "invalid admin id type",
	"error.invalid_credentials":       "invalid username or password",
	"error.password_invalid":          "current password is incorrect",
	"error.password_weak":             "new password is too short",
	"error.login_failed":              "login failed",
	"error.license_key_invalid":       "invalid license key",
	"error.license_key_duplicate":     "duplicate license key",
	"error.license_key_not_found":     "license key not found",
	"error.license_group_invalid":     "invalid license key group",
	"error.license_key_import_failed": "license key import failed",
	"error.license_key_fetch_failed":  "license key query failed",
	"error.license_key_delete_failed": "license key delete failed",
	"error.key_pool_stats_failed":     "key pool stats failed",
	"error.setting_invalid":           "invalid automation setting",
	"error.setting_fetch_failed":      "automation setting query failed",
	"error.setting_update_failed":     "automation setting update failed",
	"error.ledger_fetch_failed":       "automation ledger query failed",
	"error.order_not_found":           "order not found",
	"error.order_id_invalid":          "invalid order id",
	"error.automation_disabled":       "automation is disabled",
	"error.automation_failed":         "automation processing failed",
	"error.remote_unavailable":        "automation server unavailable",
	"error.sweep_in_progress":         "reconcile sweep already running",
	"error.sweep_failed":              "reconcile sweep failed",
}

// Message 按错误键取文案，未登记的键原样返回
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}
