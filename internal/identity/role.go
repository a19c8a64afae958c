package identity

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"rollcall/internal/apperr"
)

// Role identifies what a user is allowed to see and do.
type Role int

// RoleUnknown is the zero value and is never valid: a Role that was not
// explicitly parsed or assigned fails every role check.
const (
	RoleUnknown Role = iota
	RoleStudent
	RoleTeacher
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleStudent: "student",
	RoleTeacher: "teacher",
	RoleAdmin:   "admin",
}

// ParseRole converts the wire form of a role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, apperr.Validationf("unknown role %q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// MarshalJSON renders the role as its string name.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON parses the string name, rejecting unknown roles.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalBSONValue stores the role as its string name.
func (r Role) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(r.String())
}

// UnmarshalBSONValue parses the stored string name.
func (r *Role) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
