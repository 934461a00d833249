// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse("a64-sgemm-8x12:kblock=256, xblock=96,vl=8,Rounding=halfup,fastmath=true")
	require.NoError(t, err)
	assert.Equal(t, Config{Kernel: "a64-sgemm-8x12", KBlock: 256, XBlock: 96, VectorLength: 8,
		Rounding: quantize.RoundHalfUp, FastMath: true}, c)
	assert.Equal(t, "a64-sgemm-8x12:kblock=256,xblock=96,vl=8,rounding=HalfUp,fastmath=true", c.String())

	c, err = Parse(":fastmath=0")
	require.NoError(t, err)
	assert.Equal(t, Config{}, c)

	c, err = Parse("a64-gemm-s8-12x8")
	require.NoError(t, err)
	assert.Equal(t, Config{Kernel: "a64-gemm-s8-12x8"}, c)
	assert.Equal(t, "a64-gemm-s8-12x8", c.String())

	c, err = Parse(":rounding=HalfAwayFromZero")
	require.NoError(t, err)
	assert.Equal(t, Config{Rounding: quantize.RoundHalfAwayFromZero}, c)

	c, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Config{}, c)

	for _, bad := range []string{":kblock", ":kblock=x", ":xblock=-1", ":rounding=down", ":threads=4", ":fastmath=maybe"} {
		_, err = Parse(bad)
		assert.Error(t, err, "configuration %q", bad)
	}
	_, err = Parse("sgemm:threads=4")
	require.ErrorContains(t, err, "unknown configuration option \"threads\"")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(MICROGEMM_CONFIG, "a64-sgemm-native-16x4:kblock=64")
	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{Kernel: "a64-sgemm-native-16x4", KBlock: 64}, c)

	t.Setenv(MICROGEMM_CONFIG, ":vl=zero")
	_, err = FromEnv()
	require.ErrorContains(t, err, MICROGEMM_CONFIG)
}

func TestKBlockSize(t *testing.T) {
	sgemm := &kernels.CacheParams{MR: 8, NR: 12, KR: 1}
	s8 := &kernels.CacheParams{MR: 12, NR: 8, KR: 4}
	testCases := []struct {
		name            string
		l1, elemSize, k int
		params          *kernels.CacheParams
		want            int
	}{
		{"sgemm evened", 32 * 1024, 4, 1000, sgemm, 334},
		{"sgemm small K", 32 * 1024, 4, 100, sgemm, 100},
		{"s8 one block", 32 * 1024, 1, 100, s8, 100},
		{"s8 three blocks", 32 * 1024, 1, 3000, s8, 1000},
		{"s8 rounded to KR", 32 * 1024, 1, 3001, s8, 1004},
		{"tiny cache", 16, 4, 5, &kernels.CacheParams{MR: 8, NR: 8, KR: 2}, 2},
		{"unknown K", 32 * 1024, 1, 0, s8, 1364},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := KBlockSize(tc.l1, tc.elemSize, tc.params, tc.k)
			assert.Equal(t, tc.want, got)
			assert.Zero(t, got%tc.params.KR)
		})
	}

	c := Config{KBlock: 10, XBlock: 20}
	assert.Equal(t, 12, c.KBlockFor(s8, 1, 1000))
	assert.Greater(t, Config{}.KBlockFor(sgemm, 4, 1000), 0)
}

func TestXBlockSize(t *testing.T) {
	sgemm := &kernels.CacheParams{MR: 8, NR: 12, KR: 1}
	s8 := &kernels.CacheParams{MR: 12, NR: 8, KR: 4}
	testCases := []struct {
		name                    string
		l2, elemSize, kBlock, n int
		params                  *kernels.CacheParams
		want                    int
	}{
		{"sgemm evened", 512 * 1024, 4, 256, 1000, sgemm, 336},
		{"sgemm one block", 512 * 1024, 4, 256, 100, sgemm, 108},
		{"sgemm unknown N", 512 * 1024, 4, 256, 0, sgemm, 432},
		{"s8 one block", 512 * 1024, 1, 1000, 96, s8, 96},
		{"s8 unknown N", 512 * 1024, 1, 1000, 0, s8, 448},
		{"tiny cache", 1024, 4, 256, 1000, sgemm, 12},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := XBlockSize(tc.l2, tc.elemSize, tc.params, tc.kBlock, tc.n)
			assert.Equal(t, tc.want, got)
			assert.Zero(t, got%tc.params.NR)
		})
	}

	assert.Equal(t, 24, Config{XBlock: 20}.XBlockFor(sgemm, 4, 256, 1000))
	got := Config{}.XBlockFor(sgemm, 4, 256, 77)
	assert.GreaterOrEqual(t, got, 12)
	assert.Zero(t, got%12)
}
