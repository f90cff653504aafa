package lossless

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testParamObj struct {
	name  string
	group string
	set   map[string]valueStruct
	order []string
}

func (tp *testParamObj) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return tp.name == attrbValue
	case "group":
		return tp.group == attrbValue
	}
	return false
}

func (tp *testParamObj) setParam(param string, value valueStruct) {
	tp.set[param] = value
	tp.order = append(tp.order, param)
}

func (tp *testParamObj) paramObjName() string {
	return tp.name
}

func TestStringToValueStruct(t *testing.T) {
	vs := stringToValueStruct("42")
	assert.Equal(t, 42, vs.intValue)
	assert.Equal(t, 42.0, vs.floatValue)

	vs = stringToValueStruct("2.5e9")
	assert.Equal(t, 2.5e9, vs.floatValue)

	assert.True(t, stringToValueStruct("True").boolValue)
	vs = stringToValueStruct("wrr")
	assert.False(t, vs.boolValue)
	assert.Equal(t, "wrr", vs.stringValue)
}

func TestCompareAttrbs(t *testing.T) {
	a := []AttrbStruct{{AttrbName: "group", AttrbValue: "edge"}}
	b := []AttrbStruct{{AttrbName: "name", AttrbValue: "edge"}}
	assert.Equal(t, -1, CompareAttrbs(a, b))
	assert.Equal(t, 1, CompareAttrbs(b, a))
	assert.Equal(t, 0, CompareAttrbs(a, a))
	assert.Equal(t, -1, CompareAttrbs(a, append(a, b...)))
}

func TestExpParameter_Validate(t *testing.T) {
	wc := []AttrbStruct{{AttrbName: "*"}}
	assert.NoError(t, CreateExpParameter("Port", wc, "rate", "1e9").Validate())
	assert.NoError(t, CreateExpParameter("Switch", wc, "dynamicthreshold", "true").Validate())
	assert.Error(t, CreateExpParameter("Router", wc, "rate", "1e9").Validate())
	assert.Error(t, CreateExpParameter("NIC", wc, "rate", "1e9").Validate())
	assert.Error(t, CreateExpParameter("Port", nil, "rate", "1e9").Validate())
	assert.Error(t, CreateExpParameter("Port", []AttrbStruct{{AttrbName: "color"}}, "rate", "1e9").Validate())
}

func TestReorderExpParams(t *testing.T) {
	named := *CreateExpParameter("Port", []AttrbStruct{{AttrbName: "name", AttrbValue: "b"}}, "rate", "2e9")
	group := *CreateExpParameter("Port", []AttrbStruct{{AttrbName: "group", AttrbValue: "edge"}}, "rate", "5e8")
	wild := *CreateExpParameter("Port", []AttrbStruct{{AttrbName: "*"}}, "rate", "1e9")

	ordered := reorderExpParams([]ExpParameter{named, group, wild, wild})
	assert.Len(t, ordered, 3)
	assert.True(t, ordered[0].Eq(&wild))
	assert.True(t, ordered[1].Eq(&group))
	assert.True(t, ordered[2].Eq(&named))
}

func TestApplyParameters_MostSpecificWins(t *testing.T) {
	a := &testParamObj{name: "a", group: "edge", set: map[string]valueStruct{}}
	b := &testParamObj{name: "b", set: map[string]valueStruct{}}
	c := &testParamObj{name: "c", set: map[string]valueStruct{}}
	params := []ExpParameter{
		*CreateExpParameter("Port", []AttrbStruct{{AttrbName: "name", AttrbValue: "b"}}, "rate", "2e9"),
		*CreateExpParameter("Port", []AttrbStruct{{AttrbName: "group", AttrbValue: "edge"}}, "rate", "5e8"),
		*CreateExpParameter("Port", []AttrbStruct{{AttrbName: "*"}}, "rate", "1e9"),
		*CreateExpParameter("Switch", []AttrbStruct{{AttrbName: "*"}}, "trace", "true"),
	}
	applyParameters(params, map[string][]paramObj{"Port": {a, b, c}})

	assert.Equal(t, 5e8, a.set["rate"].floatValue)
	assert.Equal(t, 2e9, b.set["rate"].floatValue)
	assert.Equal(t, 1e9, c.set["rate"].floatValue)
	assert.Equal(t, []string{"rate", "rate"}, a.order)
	assert.Equal(t, []string{"rate"}, c.order)
	assert.Equal(t, "c", c.paramObjName())
}
