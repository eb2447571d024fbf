package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// optionalInt decodes a JSON number, a numeric string, an empty string or null.
type optionalInt struct {
	Value int64
	Set   bool
}

func (o *optionalInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*o = optionalInt{}
		return nil
	}
	raw := string(b)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*o = optionalInt{}
			return nil
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("not an integer: %s", raw)
		}
		n = int64(f)
	}
	*o = optionalInt{Value: n, Set: true}
	return nil
}

func (o optionalInt) int64Ptr() *int64 {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

func (o optionalInt) intPtr() *int {
	if !o.Set {
		return nil
	}
	v := int(o.Value)
	return &v
}

type registerRequest struct {
	Name      string      `json:"Name"`
	Email     string      `json:"Email"`
	ContactNo string      `json:"Contact_No"`
	Address   string      `json:"Address"`
	Age       optionalInt `json:"Age"`
	Username  string      `json:"Username"`
	Password  string      `json:"Password"`
	RoleID    optionalInt `json:"Role_ID"`
}

type loginRequest struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type roleGrantRequest struct {
	UserID optionalInt `json:"userId"`
	RoleID optionalInt `json:"roleId"`
}

type createRoleRequest struct {
	Name        string `json:"Role_Name"`
	Description string `json:"Role_Description"`
}
