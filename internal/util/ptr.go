package util

func StringPtr(v string) *string { return &v }

func BoolPtr(v bool) *bool { return &v }

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
