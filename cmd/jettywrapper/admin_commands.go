package main

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/jettywrapper/internal/admin"
)

func (c command) adminClient(f AdminFlags) (*admin.Client, error) {
	base := f.URL
	if base == "" {
		cfg, err := c.s.resolve()
		if err != nil {
			return nil, err
		}
		base = "http://" + cfg.Addr()
	}
	conf := admin.Config{
		BaseURL:  base,
		Username: f.Username,
		Password: f.Password,
		Logger:   c.s.log,
		Insecure: f.Insecure,
	}
	if f.CACert != "" {
		conf.TLS = &admin.TLSClientConfig{CACert: f.CACert}
	}
	return admin.New(conf)
}

func (c command) SolrStatus(ctx context.Context, f AdminFlags, core string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	st, err := cl.CoreStatus(ctx, core)
	if err != nil {
		return err
	}
	return printJSON(c.s.out, st)
}

func (c command) SolrReload(ctx context.Context, f AdminFlags, core string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	if err := cl.ReloadCore(ctx, core); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "reloaded core %s\n", core)
	return nil
}

func (c command) SolrCreate(ctx context.Context, f AdminFlags, name, instanceDir string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	if err := cl.CreateCore(ctx, name, instanceDir); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "created core %s\n", name)
	return nil
}

func (c command) SolrUnload(ctx context.Context, f AdminFlags, core string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	if err := cl.UnloadCore(ctx, core); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "unloaded core %s\n", core)
	return nil
}

func (c command) SolrPing(ctx context.Context, f AdminFlags, core string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	ok, err := cl.Ping(ctx, core)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.s.out, ok)
	return nil
}

func (c command) FedoraDescribe(ctx context.Context, f AdminFlags) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	out, err := cl.FedoraDescribe(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.s.out, out)
	return nil
}

func (c command) FedoraPut(ctx context.Context, f AdminFlags, path, file, contentType string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	// #nosec G304
	body, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	code, err := cl.FedoraPut(ctx, path, body, contentType)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "%d %s\n", code, path)
	return nil
}

func (c command) FedoraDelete(ctx context.Context, f AdminFlags, path string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	code, err := cl.FedoraDelete(ctx, path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "%d %s\n", code, path)
	return nil
}

func (c command) TomcatList(ctx context.Context, f AdminFlags) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	apps, err := cl.TomcatList(ctx)
	if err != nil {
		return err
	}
	for _, a := range apps {
		_, _ = fmt.Fprintf(c.s.out, "%s\t%s\t%s\t%s\n", a.Path, a.State, a.Sessions, a.Name)
	}
	return nil
}

func (c command) TomcatDeploy(ctx context.Context, f AdminFlags, path, war string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	if err := cl.TomcatDeploy(ctx, path, war); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "deployed %s at %s\n", war, path)
	return nil
}

func (c command) TomcatUndeploy(ctx context.Context, f AdminFlags, path string) error {
	cl, err := c.adminClient(f)
	if err != nil {
		return err
	}
	if err := cl.TomcatUndeploy(ctx, path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "undeployed %s\n", path)
	return nil
}
