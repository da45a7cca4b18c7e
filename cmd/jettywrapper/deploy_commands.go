package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/loykin/jettywrapper/internal/torquebox"
)

func (c command) deployer(f DeployFlags) (torquebox.Deployer, string, error) {
	home := f.TorqueboxHome
	if home == "" {
		home = os.Getenv("TORQUEBOX_HOME")
	}
	if home == "" && f.DeployDir == "" {
		return torquebox.Deployer{}, "", errors.New("set --torquebox-home, TORQUEBOX_HOME or --deploy-dir")
	}
	name := f.Name
	if name == "" {
		root := f.Root
		if root == "" {
			root = c.s.v.GetString(flagAppRoot)
		}
		if root == "" {
			root, _ = os.Getwd()
		}
		name = torquebox.DeploymentName(root)
	}
	return torquebox.NewDeployer(home, f.DeployDir, c.s.log), name, nil
}

// Deploy writes a knob for the application and optionally waits for the
// server to pick it up.
func (c command) Deploy(ctx context.Context, f DeployFlags) error {
	d, name, err := c.deployer(f)
	if err != nil {
		return err
	}
	root := f.Root
	if root == "" {
		root = c.s.v.GetString(flagAppRoot)
	}
	knob, err := d.Deploy(name, torquebox.BasicDescriptor(root, c.s.v.GetString(flagEnv), f.Context))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "deployed %s\n", knob)
	if !f.Wait {
		return nil
	}
	return c.awaitDeployment(ctx, d, name, f.Timeout)
}

func (c command) awaitDeployment(ctx context.Context, d torquebox.Deployer, name string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := d.Wait(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "%s is deployed\n", torquebox.KnobName(name))
	return nil
}

func (c command) Undeploy(f DeployFlags) error {
	d, name, err := c.deployer(f)
	if err != nil {
		return err
	}
	if err := d.Undeploy(name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.s.out, "undeployed %s\n", torquebox.KnobName(name))
	return nil
}
