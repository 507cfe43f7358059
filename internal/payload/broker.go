package payload

import (
	"fmt"
	"maps"
)

// BrokerRoles maps the canonical output columns onto import-broker column roles, in column order
var BrokerRoles = []string{"account-id", "internal_reference", "date_transaction", "description", "amount"}

// DefaultBrokerConfig returns the built-in import-broker configuration.
// The unique column is the transaction ID, column 1 of the canonical CSV.
func DefaultBrokerConfig() map[string]any {
	return map[string]any{
		"date":                          "Y-m-d",
		"delimiter":                     "comma",
		"headers":                       true,
		"rules":                         true,
		"skip_form":                     true,
		"add_import_tag":                true,
		"duplicate_detection_method":    "cell",
		"ignore_duplicate_lines":        true,
		"ignore_duplicate_transactions": true,
		"unique_column_type":            "external-id",
		"unique_column_index":           1,
		"default_account":               0,
		"flow":                          "file",
		"conversion":                    false,
		"mapping":                       map[string]any{},
		"version":                       3,
	}
}

// BrokerConfig merges overrides over the defaults and pins the fields the
// broker needs for this upload
func BrokerConfig(overrides map[string]any, accountID int64, allowDuplicates bool) (map[string]any, error) {
	if accountID <= 0 {
		return nil, fmt.Errorf("account ID must be positive, got %d", accountID)
	}

	cfg := DefaultBrokerConfig()
	maps.Copy(cfg, overrides)

	cfg["flow"] = "file"
	cfg["default_account"] = accountID

	roles := toStrings(cfg["roles"])
	if len(roles) == 0 {
		roles = append([]string(nil), BrokerRoles...)
	}
	cfg["roles"] = roles

	doMapping := make([]bool, len(roles))
	cfg["do_mapping"] = doMapping

	// The broker rejects an array here; only an object mapping is kept
	if _, ok := cfg["mapping"].(map[string]any); !ok {
		cfg["mapping"] = map[string]any{}
	}

	if allowDuplicates {
		cfg["ignore_duplicate_lines"] = false
		cfg["ignore_duplicate_transactions"] = false
	}
	return cfg, nil
}

// toStrings accepts both []string and the []any a TOML decoder produces
func toStrings(v any) []string {
	switch roles := v.(type) {
	case []string:
		return append([]string(nil), roles...)
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
