package web

import (
	"net"
	"net/http"
	"strings"

	"newsletterapp/internal/infrastructure/logger"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// parseProxies разбирает список IP и CIDR доверенных прокси. Ошибочные записи пропускаются
func parseProxies(list []string) []*net.IPNet {
	var out []*net.IPNet
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				logger.Warnf("Неверный адрес доверенного прокси: %q", item)
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(item)
		if err != nil {
			logger.Warnf("Неверная подсеть доверенного прокси %q: %v", item, err)
			continue
		}
		out = append(out, network)
	}
	return out
}

func trusted(proxies []*net.IPNet, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP адрес клиента. X-Forwarded-For учитывается, только если запрос пришел от доверенного
// прокси: адреса перебираются справа налево до первого недоверенного
func clientIP(r *http.Request, proxies []*net.IPNet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" || !trusted(proxies, host) {
		return host
	}

	hops := strings.Split(fwd, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			return host
		}
		if i == 0 || !trusted(proxies, hop) {
			return hop
		}
	}
	return host
}

func (app *WebApp) limiter(ip string) *rate.Limiter {
	if v, ok := app.limiters.Get(ip); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(app.conf.RequestsPerSec), app.conf.RequestsBurst)
	if err := app.limiters.Add(ip, l, gocache.DefaultExpiration); err != nil {
		// другой запрос успел создать лимитер
		if v, ok := app.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// LimitMiddleware ограничивает количество запросов от одного IP
func (app *WebApp) LimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.conf.RequestsPerSec <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r, app.proxies)
		if !app.limiter(ip).Allow() {
			logger.Warn("(" + ip + ") Превышен лимит запросов: " + r.URL.Path)
			http.Error(w, "Слишком много запросов", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
