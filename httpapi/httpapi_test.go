// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/database"
	dbmocks "github.com/bountyrelay/relayer/database/mocks"
	"github.com/bountyrelay/relayer/store"
	"github.com/bountyrelay/relayer/types"
)

func TestHandleGetAMBsRejectsMalformedHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	s := New(store.New(backend, zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/getAMBs?transactionHash=0xshort", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAMBsRejectsMissingParam(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	s := New(store.New(backend, zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/getAMBs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAMBsReturnsObservedAMB(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)

	id := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	amb := types.AmbMessage{MessageIdentifier: id, AMB: "mock"}
	raw, err := json.Marshal(amb)
	require.NoError(t, err)
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(raw, nil)

	s := New(store.New(backend, zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/getAMBs?transactionHash="+id.Hex(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp getAMBsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"mock"}, resp.AMBsObserved)
}

func TestHandleGetAMBsReturnsEmptyWhenNeverObserved(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := dbmocks.NewMockKVBackend(ctrl)
	backend.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, database.ErrDataKeyNotFound)

	s := New(store.New(backend, zap.NewNop()), zap.NewNop())

	id := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	req := httptest.NewRequest(http.MethodGet, "/getAMBs?transactionHash="+id.Hex(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp getAMBsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.AMBsObserved)
}
