package identity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "student", want: RoleStudent},
		{in: "teacher", want: RoleTeacher},
		{in: "admin", want: RoleAdmin},
		{in: "Admin", wantErr: true},
		{in: "superuser", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			if tc.wantErr {
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, `"teacher"`, string(data))

	var r Role
	require.NoError(t, json.Unmarshal([]byte(`"admin"`), &r))
	assert.Equal(t, RoleAdmin, r)

	assert.Error(t, json.Unmarshal([]byte(`"root"`), &r))
	assert.Error(t, json.Unmarshal([]byte(`2`), &r))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "student", RoleStudent.String())
	assert.Equal(t, "role(9)", Role(9).String())
}

func TestRoleZeroValueIsNotARole(t *testing.T) {
	var r Role
	assert.Equal(t, RoleUnknown, r)
	assert.NotEqual(t, RoleStudent, r)
	assert.Equal(t, "role(0)", r.String())

	// the zero value has no wire form, so it can never round-trip in
	_, err := ParseRole(r.String())
	assert.Error(t, err)
}
