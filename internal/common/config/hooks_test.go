package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
)

type testConfig struct {
	Memory  resource.Quantity
	Timeout time.Duration
	Labels  []string
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader(`
memory: 400Gi
timeout: 90s
labels: a,b,c
`))
	require.NoError(t, err)

	config := &testConfig{}
	err = v.Unmarshal(config, CustomHooks...)
	require.NoError(t, err)

	expectedMemory := resource.MustParse("400Gi")
	assert.Equal(t, 0, config.Memory.Cmp(expectedMemory))
	assert.Equal(t, 90*time.Second, config.Timeout)
	assert.Equal(t, []string{"a", "b", "c"}, config.Labels)
}

func TestQuantityDecodeHook_RejectsMalformed(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader("memory: lots\n"))
	require.NoError(t, err)

	config := &testConfig{}
	err = v.Unmarshal(config, CustomHooks...)
	assert.Error(t, err)
}
