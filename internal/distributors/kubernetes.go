package distributors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"

	dserrors "github.com/systmms/keyrot/internal/errors"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/distributor"
)

// authInCluster selects the pod service account
const authInCluster = "in-cluster"

// KubernetesDistributor updates two data keys of an existing Secret
type KubernetesDistributor struct {
	name   string
	logger *logging.Logger

	mu        sync.Mutex
	clientset kubernetes.Interface
}

// KubernetesOption configures a KubernetesDistributor
type KubernetesOption func(*KubernetesDistributor)

// WithKubernetesClientset sets a custom clientset (for testing)
func WithKubernetesClientset(cs kubernetes.Interface) KubernetesOption {
	return func(d *KubernetesDistributor) {
		d.clientset = cs
	}
}

// NewKubernetesDistributor creates a kubernetes distributor. Auth is either
// "in-cluster" or the path of a kubeconfig file.
func NewKubernetesDistributor(name string, cfg distributor.ServiceConfiguration, logger *logging.Logger, opts ...KubernetesOption) (*KubernetesDistributor, error) {
	d := &KubernetesDistributor{name: name, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the distributor name
func (d *KubernetesDistributor) Name() string {
	return d.name
}

// ValidateConfiguration requires namespace/name targets
func (d *KubernetesDistributor) ValidateConfiguration(cfg distributor.ServiceConfiguration) error {
	if err := distributor.ValidateCommon(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Projects {
		if _, _, err := splitNamespacedName(p.Target); err != nil {
			return &distributor.ValidationError{Distributor: cfg.Name, Message: err.Error()}
		}
	}
	return nil
}

func splitNamespacedName(target string) (string, string, error) {
	ns, name, ok := strings.Cut(target, "/")
	if !ok || ns == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("project target %q must be namespace/secret-name", target)
	}
	return ns, name, nil
}

func (d *KubernetesDistributor) getClientset(cfg distributor.ServiceConfiguration) (kubernetes.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clientset != nil {
		return d.clientset, nil
	}

	var (
		restCfg *rest.Config
		err     error
	)
	if auth := cfg.Auth.Reveal(); auth == authInCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", auth)
	}
	if err != nil {
		return nil, dserrors.ProviderError("kubernetes", "load client configuration", err)
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, dserrors.ProviderError("kubernetes", "create clientset", err)
	}
	d.clientset = cs
	return cs, nil
}

// PushNewCredentials rewrites both data keys of each Secret, re-reading
// and retrying when the update conflicts with a concurrent writer.
func (d *KubernetesDistributor) PushNewCredentials(ctx context.Context, cfg distributor.ServiceConfiguration, keyID string, secret logging.Secret) error {
	cs, err := d.getClientset(cfg)
	if err != nil {
		return err
	}

	for _, project := range cfg.Projects {
		ns, name, err := splitNamespacedName(project.Target)
		if err != nil {
			return err
		}
		secrets := cs.CoreV1().Secrets(ns)

		err = retry.RetryOnConflict(retry.DefaultBackoff, func() error {
			obj, err := secrets.Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				if apierrors.IsNotFound(err) {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: "secret"}
				}
				return err
			}
			for _, key := range []string{project.KeyIDName, project.SecretName} {
				if _, ok := obj.Data[key]; !ok {
					return &distributor.LocationNotFoundError{Distributor: d.name, Target: project.Target, Location: key}
				}
			}

			obj.Data[project.KeyIDName] = []byte(keyID)
			obj.Data[project.SecretName] = []byte(secret.Reveal())
			_, err = secrets.Update(ctx, obj, metav1.UpdateOptions{})
			return err
		})
		if err != nil {
			if errors.Is(err, distributor.ErrLocationNotFound) {
				return err
			}
			return dserrors.ProviderError("kubernetes", "update secret "+project.Target, err)
		}

		d.logger.Debug("Updated %s and %s in secret %s", project.KeyIDName, project.SecretName, project.Target)
	}
	return nil
}

var _ distributor.Distributor = (*KubernetesDistributor)(nil)
