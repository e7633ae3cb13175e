package common

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ComputeResources maps resource type (e.g. "cpu", "memory") to an amount.
type ComputeResources map[string]resource.Quantity

func (a ComputeResources) Add(b ComputeResources) {
	for k, v := range b {
		existing, ok := a[k]
		if ok {
			existing.Add(v)
			a[k] = existing
		} else {
			a[k] = v.DeepCopy()
		}
	}
}

func (a ComputeResources) Sub(b ComputeResources) {
	for k, v := range b {
		existing, ok := a[k]
		if ok {
			existing.Sub(v)
			a[k] = existing
		} else {
			cpy := v.DeepCopy()
			cpy.Neg()
			a[k] = cpy
		}
	}
}

// String renders the resources in a stable order, e.g. "cpu=4, memory=16Gi".
func (a ComputeResources) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		amount := a[k]
		parts = append(parts, fmt.Sprintf("%s=%s", k, amount.String()))
	}
	return strings.Join(parts, ", ")
}
