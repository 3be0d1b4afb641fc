package exporter

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestValue(t *testing.T) {
	tests := []struct {
		name      string
		value     Value
		wantList  bool
		wantStr   string
		wantFirst string
		wantOK    bool
	}{
		{
			name:      "single",
			value:     Single("jdoe"),
			wantStr:   "jdoe",
			wantFirst: "jdoe",
			wantOK:    true,
		},
		{
			name:      "single empty string",
			value:     Single(""),
			wantStr:   "",
			wantFirst: "",
			wantOK:    true,
		},
		{
			name:     "empty list",
			value:    List(),
			wantList: true,
		},
		{
			name:      "multi-valued list",
			value:     List("Sales", "Marketing"),
			wantList:  true,
			wantFirst: "Sales",
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantList, tt.value.IsList())
			assert.Equal(t, tt.wantStr, tt.value.String())

			first, ok := tt.value.First()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantFirst, first)
		})
	}
}

func TestValue_ValuesIsACopy(t *testing.T) {
	source := []string{"a", "b"}
	v := List(source...)
	source[0] = "changed"

	values := v.Values()
	values[1] = "changed"

	assert.Equal(t, []string{"a", "b"}, v.Values())
}

func TestNewEntry(t *testing.T) {
	e := NewEntry("CN=John Doe,DC=example,DC=com", map[string][]string{
		"sAMAccountName": {"jdoe"},
		"department":     {"Sales", "Marketing"},
		"company":        {},
	})

	assert.Equal(t, "CN=John Doe,DC=example,DC=com", e.DN())
	assert.Equal(t, 3, e.Len())
	assert.ElementsMatch(t, []string{"sAMAccountName", "department", "company"}, e.Names())

	sam, ok := e.Lookup("samaccountname")
	assert.True(t, ok, "lookup should ignore case")
	assert.False(t, sam.IsList())
	assert.Equal(t, "jdoe", sam.String())

	dept, ok := e.Lookup("department")
	assert.True(t, ok)
	assert.True(t, dept.IsList())
	assert.Equal(t, []string{"Sales", "Marketing"}, dept.Values())

	company, ok := e.Lookup("company")
	assert.True(t, ok)
	assert.True(t, company.IsList())
	assert.Empty(t, company.Values())

	_, ok = e.Lookup("cn")
	assert.False(t, ok)
}

func TestFromLDAP(t *testing.T) {
	raw := ldap.NewEntry("CN=Jane Roe,DC=example,DC=com", map[string][]string{
		"sAMAccountName": {"jroe"},
		"CN":             {"Jane Roe"},
	})

	e := FromLDAP(raw, []string{"sAMAccountName", "cn", "company", "department"})

	assert.Equal(t, raw.DN, e.DN())
	assert.Equal(t, 4, e.Len())

	cn, ok := e.Lookup("cn")
	assert.True(t, ok)
	assert.Equal(t, "Jane Roe", cn.String())

	for _, attr := range []string{"company", "department"} {
		v, ok := e.Lookup(attr)
		assert.True(t, ok, "requested attribute %s should be present", attr)
		assert.True(t, v.IsList(), "absent attribute %s should be an empty list", attr)
		assert.Empty(t, v.Values())
	}

	// Names keep the server's spelling for returned attributes.
	assert.Contains(t, e.Names(), "CN")
	assert.NotContains(t, e.Names(), "cn")
}
