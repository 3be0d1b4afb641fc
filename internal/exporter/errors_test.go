package exporter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"

	"github.com/isometry/ldap-csv-exporter/internal/config"
	ldapclient "github.com/isometry/ldap-csv-exporter/internal/ldap"
)

func TestStageOf(t *testing.T) {
	err := fmt.Errorf("run failed: %w", &StageError{Stage: StageSearch, Err: errors.New("boom")})

	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, StageSearch, stage)

	_, ok = StageOf(errors.New("plain"))
	assert.False(t, ok)

	assert.Nil(t, stageError(StageWrite, nil))
}

func TestStageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StageError{Stage: StageConnect, Err: cause}

	assert.Equal(t, "connect stage failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestDescribe(t *testing.T) {
	ldapErr := ldapclient.NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil",
			err:  nil,
			want: "",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "Error(boom)",
		},
		{
			name: "wrapped plain error",
			err:  fmt.Errorf("outer: %w", errors.New("inner")),
			want: "Error(outer: inner)",
		},
		{
			name: "typed error",
			err:  ldapErr,
			want: "LDAPError(" + ldapErr.Error() + ")",
		},
		{
			name: "typed error behind fmt wrapper",
			err:  fmt.Errorf("paged search failed: %w", ldapErr),
			want: "LDAPError(paged search failed: " + ldapErr.Error() + ")",
		},
		{
			name: "stage error is described by its cause",
			err:  &StageError{Stage: StageWrite, Err: &MissingAttributeError{DN: "CN=x", Attribute: "cn"}},
			want: `MissingAttributeError(entry "CN=x" has no value for required attribute cn)`,
		},
		{
			name: "secret file error",
			err:  &config.SecretFileError{Path: "/nope", Missing: true},
			want: "SecretFileError(password file /nope not found)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}
