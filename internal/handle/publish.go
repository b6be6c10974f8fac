package handle

import (
	"context"
	"log"

	"github.com/dop251/goja"
)

// GlobalName is where the current handle is published for page code.
const GlobalName = "currentGame"

// Publish exposes res at the well-known global. Page objects are published
// as-is; Go handles get a proxy whose methods invoke them asynchronously.
func Publish(ctx context.Context, page Page, res Resolution, logger *log.Logger) error {
	return page.Do(ctx, func(rt *goja.Runtime) error {
		if js, ok := res.Handle.(*JSHandle); ok {
			return rt.Set(GlobalName, js.obj)
		}
		proxy := rt.NewObject()
		for _, a := range Actions {
			a := a
			h := res.Handle
			proxy.Set(string(a), func(goja.FunctionCall) goja.Value {
				go func() {
					if err := h.Invoke(context.Background(), a); err != nil && logger != nil {
						logger.Printf("published handle action=%s err=%v", a, err)
					}
				}()
				return goja.Undefined()
			})
		}
		proxy.Set("kind", string(res.Kind))
		return rt.Set(GlobalName, proxy)
	})
}
