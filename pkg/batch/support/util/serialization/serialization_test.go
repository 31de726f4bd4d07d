package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
)

func TestGetMaskedParametersMap(t *testing.T) {
	prev := config.GlobalConfig
	defer func() { config.GlobalConfig = prev }()
	config.GlobalConfig = config.NewConfig()

	in := map[string]interface{}{
		"model": "qwen",
		"api_config": map[string]interface{}{
			"api_key": "sk-123456789",
			"api_url": "https://x",
		},
	}
	out := GetMaskedParametersMap(in)

	nested := out["api_config"].(map[string]interface{})
	assert.Equal(t, "********", nested["api_key"])
	assert.Equal(t, "https://x", nested["api_url"])
	assert.Equal(t, "sk-123456789", in["api_config"].(map[string]interface{})["api_key"], "input untouched")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "sk-abc...", MaskSecret("sk-abcdefghijk"))
	assert.Equal(t, "********", MaskSecret("short"))
}

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	type a struct {
		Zeta  int `json:"zeta"`
		Alpha int `json:"alpha"`
	}
	fromStruct, err := CanonicalJSON(a{Zeta: 1, Alpha: 2})
	require.NoError(t, err)
	fromMap, err := CanonicalJSON(map[string]int{"alpha": 2, "zeta": 1})
	require.NoError(t, err)

	assert.Equal(t, `{"alpha":2,"zeta":1}`, string(fromStruct))
	assert.Equal(t, fromStruct, fromMap)

	h1, _ := HashCanonical(a{Zeta: 1, Alpha: 2})
	h2, _ := HashCanonical(map[string]int{"zeta": 1, "alpha": 2})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestParametersRoundTrip(t *testing.T) {
	data, err := MarshalParameters(map[string]interface{}{"batch_size": 5.0, "api_key": "secret"})
	require.NoError(t, err)

	var params map[string]interface{}
	require.NoError(t, UnmarshalParameters(data, &params))
	assert.Equal(t, 5.0, params["batch_size"])
	assert.Equal(t, "********", params["api_key"])

	empty, err := MarshalParameters(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))

	require.NoError(t, UnmarshalParameters([]byte("null"), &params))
	assert.Empty(t, params)
	assert.Error(t, UnmarshalParameters([]byte("{bad"), &params))
}

func TestToMap(t *testing.T) {
	m, err := ToMap(struct {
		A string `json:"a"`
	}{A: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", m["a"])

	_, err = ToMap([]int{1})
	assert.Error(t, err)
}
