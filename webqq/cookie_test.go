package webqq

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCookieJarRender(t *testing.T) {
	var tests = []struct {
		name     string
		set      map[CookieName]string
		expected string
	}{
		{"empty", nil, ""},
		{"single", map[CookieName]string{CookieSKey: "@abc"}, "skey=@abc; "},
		{
			"ordered",
			map[CookieName]string{CookieSuperUin: "o1", CookieRK: "rk", CookiePtWebQQ: "pw", CookieUin: "o123"},
			"RK=rk; ptwebqq=pw; uin=o123; superuin=o1; ",
		},
		{"empty value", map[CookieName]string{CookieSKey: "", CookiePtCz: "cz"}, "ptcz=cz; "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := NewCookieJar()
			for k, v := range tt.set {
				jar.Set(k, v)
			}
			assert.Equal(t, tt.expected, jar.Render())
		})
	}
}

func TestCookieJarAllFields(t *testing.T) {
	jar := NewCookieJar()
	for i := CookieName(0); i < cookieCount; i++ {
		jar.Set(i, "v")
	}
	assert.Equal(t, "RK=v; ptvfsession=v; ptcz=v; skey=v; ptwebqq=v; ptuserinfo=v; uin=v; ptisp=v; "+
		"pt2gguin=v; pt4_token=v; ptui_loginuin=v; verifysession=v; rv2=v; superkey=v; superuin=v; ", jar.Render())

	jar.Clear()
	assert.Equal(t, "", jar.Render())
	assert.Equal(t, "", jar.Get(CookieRK))
}

func TestCookieJarUpdate(t *testing.T) {
	jar := NewCookieJar()
	n := jar.Update([]*http.Cookie{
		{Name: "skey", Value: "@k"},
		{Name: "p_skey", Value: "ignored"},
		{Name: "ptwebqq", Value: "pw"},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, "skey=@k; ptwebqq=pw; ", jar.Render())

	jar.Update([]*http.Cookie{{Name: "skey", MaxAge: -1}})
	assert.Equal(t, "ptwebqq=pw; ", jar.Render())
	assert.Equal(t, "pw", jar.Get(CookiePtWebQQ))
}

func TestLookupCookieName(t *testing.T) {
	name, ok := LookupCookieName("pt4_token")
	assert.True(t, ok)
	assert.Equal(t, CookiePt4Token, name)
	assert.Equal(t, "pt4_token", name.String())

	_, ok = LookupCookieName("PT4_TOKEN")
	assert.False(t, ok)
}
