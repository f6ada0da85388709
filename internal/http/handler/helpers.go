package handler

import (
    "fmt"
    "strings"

    "github.com/gin-gonic/gin"

    "h2all/internal/service"
)

func queryInt(c *gin.Context, key string, def int) int {
    if v := c.Query(key); v != "" {
        var x int
        if _, err := fmt.Sscanf(v, "%d", &x); err == nil {
            return x
        }
    }
    return def
}

// queryBool returns nil when the parameter is absent or not a boolean.
func queryBool(c *gin.Context, key string) *bool {
    switch strings.ToLower(c.Query(key)) {
    case "true", "1":
        b := true
        return &b
    case "false", "0":
        b := false
        return &b
    }
    return nil
}

// resolveCodeOptions picks a named preset when given, else the explicit
// options, else the standard format.
func resolveCodeOptions(preset string, opts *service.CodeOptions) (service.CodeOptions, error) {
    if preset != "" {
        p, ok := service.Presets()[strings.ToUpper(preset)]
        if !ok {
            return service.CodeOptions{}, fmt.Errorf("unknown preset %q", preset)
        }
        return p, nil
    }
    if opts != nil {
        return *opts, nil
    }
    return service.PresetStandard, nil
}
