package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"rental-agent/internal/domain"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.val, nil
}

func tokenJSON() string {
	return `{"token":"bot-token-1"}`
}

func sampleApplication() domain.Application {
	return domain.Application{
		Name:           "Иван",
		Phone:          "+79991234567",
		ResidentsInfo:  "пара без детей",
		ResidentsCount: 2,
		HasPets:        true,
		PetsDetails:    "кот",
		RentalPeriod:   "6 месяцев",
		MoveInDeadline: "до 15 сентября",
	}
}

func TestNewClient_Validation(t *testing.T) {
	g := &fakeGetter{val: tokenJSON()}

	_, err := NewClient(nil, "/rental-agent", "-100200300")
	require.Error(t, err)
	_, err = NewClient(g, "  ", "-100200300")
	require.Error(t, err)
	_, err = NewClient(g, "/rental-agent", "")
	require.Error(t, err)
}

func TestPostSummary(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botbot-token-1/sendMessage", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithBaseURL(srv.URL))
	require.NoError(t, err)

	listing := domain.ListingContext{Title: "2-к. квартира, 54 м²", Location: domain.Location{Title: "Казань"}}
	require.NoError(t, c.PostSummary(context.Background(), sampleApplication(), listing))

	require.Equal(t, "-100200300", got.ChatID)
	require.Equal(t, "Markdown", got.ParseMode)
	require.Contains(t, got.Text, "Новая заявка на аренду")
	require.Contains(t, got.Text, "Объявление: 2-к. квартира, 54 м²")
	require.Contains(t, got.Text, "Адрес: Казань")
	require.Contains(t, got.Text, "Имя: Иван")
	require.Contains(t, got.Text, "Телефон: +79991234567")
	require.Contains(t, got.Text, "Дети: нет")
	require.Contains(t, got.Text, "Животные: кот")
	require.Contains(t, got.Text, "Срок аренды: 6 месяцев")
	require.Contains(t, got.Text, "Дата заезда: до 15 сентября")
}

func TestPostSummary_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.PostSummary(context.Background(), sampleApplication(), domain.ListingContext{})
	require.ErrorContains(t, err, "ok=false")
}

func TestPostSummary_TokenFetchFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("parameter not found")}
	c, err := NewClient(g, "/rental-agent", "-100200300", WithBaseURL("http://unused"))
	require.NoError(t, err)

	err = c.PostSummary(context.Background(), sampleApplication(), domain.ListingContext{})
	require.ErrorContains(t, err, "parameter not found")

	// The failure is cached: no refetch on the next attempt.
	_ = c.PostSummary(context.Background(), sampleApplication(), domain.ListingContext{})
	require.Equal(t, 1, g.calls)
}

func TestResolveAddress_GeocodeSuccess(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reverse", r.URL.Path)
		require.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"display_name":"длинный адрес","address":{"road":"ул. Ленина","house_number":"10","city":"Казань"}}`)
	}))
	defer geo.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithGeocodeBaseURL(geo.URL))
	require.NoError(t, err)

	addr := c.resolveAddress(context.Background(), domain.Location{Title: "Казань", Lat: 55.79, Lon: 49.12})
	require.Equal(t, "ул. Ленина, 10, Казань", addr)
}

func TestResolveAddress_FallsBackToDisplayName(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"display_name":"Республика Татарстан, Россия","address":{}}`)
	}))
	defer geo.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithGeocodeBaseURL(geo.URL))
	require.NoError(t, err)

	addr := c.resolveAddress(context.Background(), domain.Location{Title: "Казань", Lat: 55.79, Lon: 49.12})
	require.Equal(t, "Республика Татарстан, Россия", addr)
}

func TestResolveAddress_FailureFallsBackToTitle(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer geo.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithGeocodeBaseURL(geo.URL))
	require.NoError(t, err)

	addr := c.resolveAddress(context.Background(), domain.Location{Title: "Казань", Lat: 55.79, Lon: 49.12})
	require.Equal(t, "Казань", addr)
}

func TestResolveAddress_IncompleteCoordinates(t *testing.T) {
	called := false
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		fmt.Fprint(w, `{}`)
	}))
	defer geo.Close()

	c, err := NewClient(&fakeGetter{val: tokenJSON()}, "/rental-agent", "-100200300", WithGeocodeBaseURL(geo.URL))
	require.NoError(t, err)

	// Geocoding needs both coordinates; anything less falls back to the title
	// without an HTTP call.
	require.Equal(t, "Казань", c.resolveAddress(context.Background(), domain.Location{Title: "Казань"}))
	require.Equal(t, "Казань", c.resolveAddress(context.Background(), domain.Location{Title: "Казань", Lat: 55.79}))
	require.Equal(t, "Казань", c.resolveAddress(context.Background(), domain.Location{Title: "Казань", Lon: 49.12}))
	require.False(t, called)
}
