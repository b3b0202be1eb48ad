// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package evaluator

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/chainclient/mocks"
	"github.com/bountyrelay/relayer/types"
)

func TestShouldRelay(t *testing.T) {
	testCases := []struct {
		name            string
		currentGasPrice *big.Int
		priceOfGas      *big.Int
		maxGas          *big.Int
		gasLimit        uint64
		priority        bool
		ceiling         *big.Int
		expected        bool
	}{
		{
			name:            "profitable non-priority order relays",
			currentGasPrice: big.NewInt(10),
			priceOfGas:      big.NewInt(10),
			maxGas:          big.NewInt(100),
			gasLimit:        50,
			expected:        true, // 10*100=1000 >= 10*50=500
		},
		{
			name:            "unprofitable non-priority order does not relay",
			currentGasPrice: big.NewInt(100),
			priceOfGas:      big.NewInt(1),
			maxGas:          big.NewInt(10),
			gasLimit:        50,
			expected:        false, // 1*10=10 < 100*50=5000
		},
		{
			name:            "priority order relays even at a loss",
			currentGasPrice: big.NewInt(1000),
			priceOfGas:      big.NewInt(1),
			maxGas:          big.NewInt(1),
			gasLimit:        50,
			priority:        true,
			expected:        true,
		},
		{
			name:            "priority order still rejected above the gas ceiling",
			currentGasPrice: big.NewInt(1000),
			priceOfGas:      big.NewInt(1),
			maxGas:          big.NewInt(1),
			gasLimit:        50,
			priority:        true,
			ceiling:         big.NewInt(500),
			expected:        false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockChainClient(ctrl)
			client.EXPECT().SuggestGasPrice(gomock.Any()).Return(tc.currentGasPrice, nil)

			e := New(client, zap.NewNop(), tc.ceiling)
			relay, err := e.ShouldRelay(context.Background(),
				types.NewBigInt(tc.priceOfGas), types.NewBigInt(tc.maxGas), tc.gasLimit, tc.priority)
			require.NoError(t, err)
			require.Equal(t, tc.expected, relay)
		})
	}
}

func TestShouldRelayPropagatesGasPriceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	boom := context.DeadlineExceeded
	client.EXPECT().SuggestGasPrice(gomock.Any()).Return(nil, boom)

	e := New(client, zap.NewNop(), nil)
	_, err := e.ShouldRelay(context.Background(), types.NewBigInt(big.NewInt(1)), types.NewBigInt(big.NewInt(1)), 1, false)
	require.ErrorIs(t, err, boom)
}
