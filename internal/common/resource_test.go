package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/api/resource"
)

func TestComputeResources_AddSub(t *testing.T) {
	a := ComputeResources{"cpu": resource.MustParse("2"), "memory": resource.MustParse("8Gi")}
	b := ComputeResources{"cpu": resource.MustParse("1"), "memory": resource.MustParse("8Gi")}

	a.Add(b)
	cpu := a["cpu"]
	memory := a["memory"]
	assert.Equal(t, 0, cpu.Cmp(resource.MustParse("3")))
	assert.Equal(t, 0, memory.Cmp(resource.MustParse("16Gi")))

	a.Sub(b)
	cpu = a["cpu"]
	memory = a["memory"]
	assert.Equal(t, 0, cpu.Cmp(resource.MustParse("2")))
	assert.Equal(t, 0, memory.Cmp(resource.MustParse("8Gi")))
}

func TestComputeResources_AddNewKey(t *testing.T) {
	a := ComputeResources{}
	b := ComputeResources{"cpu": resource.MustParse("4")}
	a.Add(b)
	cpu := a["cpu"]
	assert.Equal(t, 0, cpu.Cmp(resource.MustParse("4")))

	// mutating a must not affect b
	a.Add(b)
	bCpu := b["cpu"]
	assert.Equal(t, 0, bCpu.Cmp(resource.MustParse("4")))
}

func TestComputeResources_String(t *testing.T) {
	a := ComputeResources{"memory": resource.MustParse("16Gi"), "cpu": resource.MustParse("4")}
	assert.Equal(t, "cpu=4, memory=16Gi", a.String())
	assert.Equal(t, "", ComputeResources{}.String())
}
