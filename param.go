package lossless

// param.go holds run-time parameter overrides.  An ExpParameter names the kind of
// object it configures, a set of attributes selecting which objects of that kind it
// applies to, the parameter, and its value as a string.  Parameters are applied
// most general first, so that a named object's assignment wins over a wildcard.

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// kinds of object a parameter may configure
var paramObjKinds []string = []string{"Switch", "NIC", "Port"}

// parameters recognized on each kind of object
var paramsByKind map[string][]string = map[string][]string{
	"Switch": {"dynamicthreshold", "pgsharedalpha", "enablepfcondctcp", "trace"},
	"NIC":    {"trace"},
	"Port":   {"rate", "delay", "maxbytes", "minbandwidth", "trace"},
}

// attribute names usable in selecting objects
var attrbNames []string = []string{"*", "name", "group", "node"}

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// CompareAttrbs orders two attribute lists lexicographically by (name, value),
// returning -1, 0 or 1
func CompareAttrbs(attrbs1, attrbs2 []AttrbStruct) int {
	for idx := 0; idx < len(attrbs1) && idx < len(attrbs2); idx++ {
		a, b := attrbs1[idx], attrbs2[idx]
		if a.AttrbName != b.AttrbName {
			if a.AttrbName < b.AttrbName {
				return -1
			}
			return 1
		}
		if a.AttrbValue != b.AttrbValue {
			if a.AttrbValue < b.AttrbValue {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(attrbs1) < len(attrbs2):
		return -1
	case len(attrbs1) > len(attrbs2):
		return 1
	}
	return 0
}

// An ExpParameter struct describes an input to experiment configuration at run-time. It specifies
//   - ParamObj, the kind of thing being configured: Switch, NIC, or Port
//   - Attributes, the objects of that kind to which the parameter applies.  A single
//     attribute named "*" is a wildcard; "name" picks one object; all the attributes
//     listed must match
//   - Param, the parameter, and Value, its string encoding
type ExpParameter struct {
	ParamObj   string        `json:"paramObj" yaml:"paramObj"`
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`
	Param      string        `json:"param" yaml:"param"`
	Value      string        `json:"value" yaml:"value"`
}

// CreateExpParameter is a constructor.  Completely fills in the struct with the [ExpParameter] attributes.
func CreateExpParameter(paramObj string, attributes []AttrbStruct, param, value string) *ExpParameter {
	return &ExpParameter{ParamObj: paramObj, Attributes: attributes, Param: param, Value: value}
}

// Eq reports whether two parameters are identical
func (ep *ExpParameter) Eq(other *ExpParameter) bool {
	return ep.ParamObj == other.ParamObj && ep.Param == other.Param && ep.Value == other.Value &&
		CompareAttrbs(ep.Attributes, other.Attributes) == 0
}

// Validate checks that the kind, attributes and parameter are recognized
func (ep *ExpParameter) Validate() error {
	params, present := paramsByKind[ep.ParamObj]
	if !present {
		return errors.Errorf("paramObj: unknown kind %q", ep.ParamObj)
	}
	if !slices.Contains(params, ep.Param) {
		return errors.Errorf("param: %q not recognized on %s", ep.Param, ep.ParamObj)
	}
	if len(ep.Attributes) == 0 {
		return errors.Errorf("attributes: %s parameter %q selects no objects", ep.ParamObj, ep.Param)
	}
	for _, attrb := range ep.Attributes {
		if !slices.Contains(attrbNames, attrb.AttrbName) {
			return errors.Errorf("attributes: unknown attribute %q", attrb.AttrbName)
		}
	}
	return nil
}

// A valueStruct type holds the different types a value might have,
// typically only one of these is used, and which one is known by context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// stringToValueStruct takes a string (used in the run-time configuration phase)
// and determines whether it is an integer, floating point, boolean or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{}

	// try conversion to int
	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	// failing that, try conversion to float
	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		vs.intValue = int(fvalue)
		return vs
	}

	// left with it being a string.  See if true, True
	if strings.EqualFold(v, "true") {
		vs.boolValue = true
		return vs
	}

	vs.stringValue = v
	return vs
}

// paramObj is satisfied by everything a run-time parameter can be applied to
type paramObj interface {
	matchParam(attrbName, attrbValue string) bool
	setParam(param string, value valueStruct)
	paramObjName() string
}

// reorderExpParams puts the parameters in an order such that earlier elements have broader
// range than later ones that apply to the same object: wildcards, then attribute groups,
// then named objects.  Duplicates are removed.
func reorderExpParams(pL []ExpParameter) []ExpParameter {
	wc := []ExpParameter{}
	nm := []ExpParameter{}
	sg := []ExpParameter{}

	for _, param := range pL {
		assigned := false
		for _, attrb := range param.Attributes {
			if attrb.AttrbName == "*" {
				wc = append(wc, param)
				assigned = true
				break
			} else if attrb.AttrbName == "name" {
				nm = append(nm, param)
				assigned = true
				break
			}
		}
		if !assigned {
			sg = append(sg, param)
		}
	}

	sort.SliceStable(wc, func(i, j int) bool { return wc[i].Param < wc[j].Param })

	byAttrbs := func(lst []ExpParameter) func(i, j int) bool {
		return func(i, j int) bool {
			compared := CompareAttrbs(lst[i].Attributes, lst[j].Attributes)
			if compared != 0 {
				return compared < 0
			}
			if lst[i].Param != lst[j].Param {
				return lst[i].Param < lst[j].Param
			}
			return lst[i].Value < lst[j].Value
		}
	}
	sort.SliceStable(sg, byAttrbs(sg))
	sort.SliceStable(nm, byAttrbs(nm))

	wc = append(wc, sg...)
	wc = append(wc, nm...)

	// get rid of duplicates
	for idx := len(wc) - 1; idx > 0; idx-- {
		if wc[idx].Eq(&wc[idx-1]) {
			wc = append(wc[:idx], wc[(idx+1):]...)
		}
	}
	return wc
}

// applyParameters applies params, most general first, to the objects of each kind
func applyParameters(params []ExpParameter, objs map[string][]paramObj) {
	byKind := make(map[string][]ExpParameter)
	for _, param := range params {
		byKind[param.ParamObj] = append(byKind[param.ParamObj], param)
	}

	for _, kind := range paramObjKinds {
		for _, param := range reorderExpParams(byKind[kind]) {
			vs := stringToValueStruct(param.Value)
			for _, obj := range objs[kind] {
				if matchAttrbs(obj, param.Attributes) {
					obj.setParam(param.Param, vs)
				}
			}
		}
	}
}

// matchAttrbs reports whether obj has every attribute listed; a wildcard matches everything
func matchAttrbs(obj paramObj, attrbs []AttrbStruct) bool {
	for _, attrb := range attrbs {
		if attrb.AttrbName == "*" {
			return true
		}
		if !obj.matchParam(attrb.AttrbName, attrb.AttrbValue) {
			return false
		}
	}
	return true
}
