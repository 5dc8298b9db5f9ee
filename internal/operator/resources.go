package operator

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
)

// ServiceMonitorGVR identifies the Prometheus operator ServiceMonitor resource.
var ServiceMonitorGVR = schema.GroupVersionResource{
	Group:    "monitoring.coreos.com",
	Version:  "v1",
	Resource: "servicemonitors",
}

func (o *Operator) listEndpoints(ctx context.Context) (map[string]*corev1.Endpoints, error) {
	list, err := o.core.CoreV1().Endpoints(o.config.Namespace).List(ctx, metav1.ListOptions{LabelSelector: o.selector()})
	metrics.RecordKubernetesRequest("endpoints", "list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	out := make(map[string]*corev1.Endpoints, len(list.Items))
	for i := range list.Items {
		out[list.Items[i].Name] = &list.Items[i]
	}
	return out, nil
}

func servicePorts(ports []int32) []corev1.ServicePort {
	out := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		name := "metrics"
		if len(ports) > 1 {
			name = fmt.Sprintf("metrics-%d", p)
		}
		out = append(out, corev1.ServicePort{Name: name, Port: p})
	}
	return out
}

func endpointPorts(ports []int32) []corev1.EndpointPort {
	sp := servicePorts(ports)
	out := make([]corev1.EndpointPort, 0, len(sp))
	for _, p := range sp {
		out = append(out, corev1.EndpointPort{Name: p.Name, Port: p.Port})
	}
	return out
}

func endpointAddresses(hosts []string) []corev1.EndpointAddress {
	out := make([]corev1.EndpointAddress, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, corev1.EndpointAddress{IP: h})
	}
	return out
}

// createServiceEndpoints creates the headless Service and its Endpoints for
// one cluster. Failures are logged and retried on the next change.
func (o *Operator) createServiceEndpoints(ctx context.Context, name string, hosts []string, ports []int32) {
	meta := metav1.ObjectMeta{Name: name, Namespace: o.config.Namespace, Labels: o.labels()}

	svc := &corev1.Service{
		ObjectMeta: meta,
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Ports:     servicePorts(ports),
		},
	}
	_, err := o.core.CoreV1().Services(o.config.Namespace).Create(ctx, svc, metav1.CreateOptions{})
	metrics.RecordKubernetesRequest("services", "create", err)
	if err != nil {
		o.logger.Error("Cannot create service", zap.String("name", name), zap.Error(err))
	} else {
		o.logger.Info("Created service", zap.String("name", name), zap.Int32s("ports", ports))
	}

	ep := &corev1.Endpoints{
		ObjectMeta: meta,
		Subsets: []corev1.EndpointSubset{{
			Addresses: endpointAddresses(hosts),
			Ports:     endpointPorts(ports),
		}},
	}
	_, err = o.core.CoreV1().Endpoints(o.config.Namespace).Create(ctx, ep, metav1.CreateOptions{})
	metrics.RecordKubernetesRequest("endpoints", "create", err)
	if err != nil {
		o.logger.Error("Cannot create endpoints", zap.String("name", name), zap.Error(err))
		return
	}
	o.logger.Info("Created endpoints", zap.String("name", name), zap.Strings("hosts", hosts))
}

// updateEndpoints replaces the addresses of ep when they differ from hosts.
func (o *Operator) updateEndpoints(ctx context.Context, ep *corev1.Endpoints, hosts []string) error {
	var current []string
	if len(ep.Subsets) > 0 {
		for _, a := range ep.Subsets[0].Addresses {
			current = append(current, a.IP)
		}
	}
	sort.Strings(current)
	if reflect.DeepEqual(current, hosts) || (len(current) == 0 && len(hosts) == 0) {
		return nil
	}

	updated := ep.DeepCopy()
	if len(updated.Subsets) == 0 {
		updated.Subsets = []corev1.EndpointSubset{{}}
	}
	updated.Subsets[0].Addresses = endpointAddresses(hosts)
	_, err := o.core.CoreV1().Endpoints(o.config.Namespace).Update(ctx, updated, metav1.UpdateOptions{})
	metrics.RecordKubernetesRequest("endpoints", "update", err)
	if err != nil {
		return err
	}
	o.logger.Info("Updated endpoints", zap.String("name", ep.Name), zap.Strings("hosts", hosts))
	return nil
}

func (o *Operator) deleteServiceEndpoints(ctx context.Context, names []string) {
	for _, name := range names {
		err := o.core.CoreV1().Endpoints(o.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
		metrics.RecordKubernetesRequest("endpoints", "delete", err)
		if err != nil && !apierrors.IsNotFound(err) {
			o.logger.Error("Cannot delete endpoints", zap.String("name", name), zap.Error(err))
			continue
		}
		err = o.core.CoreV1().Services(o.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
		metrics.RecordKubernetesRequest("services", "delete", err)
		if err != nil && !apierrors.IsNotFound(err) {
			o.logger.Error("Cannot delete service", zap.String("name", name), zap.Error(err))
			continue
		}
		o.logger.Info("Deleted service and endpoints",
			zap.String("name", name),
			zap.String("namespace", o.config.Namespace))
	}
}

// serviceMonitorEndpoints returns one scrape endpoint per distinct metrics
// path across all clusters.
func (o *Operator) serviceMonitorEndpoints(clusters map[string]*cluster) []any {
	paths := make(map[string]bool)
	for _, c := range clusters {
		for p := range c.paths {
			paths[p] = true
		}
	}

	secretDir := "/etc/prometheus/secrets/" + o.config.SecretName
	tlsConfig := map[string]any{"insecureSkipVerify": true}
	if o.caFileExists() {
		tlsConfig = map[string]any{
			"insecureSkipVerify": false,
			"caFile":             secretDir + "/ca_cert.pem",
		}
	}

	endpoints := make([]any, 0, len(paths))
	for _, p := range sortedKeys(paths) {
		endpoints = append(endpoints, map[string]any{
			"bearerTokenFile": secretDir + "/bearer-token",
			"honorLabels":     true,
			"path":            p,
			"relabelings": []any{
				map[string]any{
					"sourceLabels": []any{"__metrics_path__"},
					"targetLabel":  "metrics_path",
				},
			},
			"scheme":    o.config.Scheme,
			"tlsConfig": copyMap(tlsConfig),
		})
	}
	return endpoints
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (o *Operator) serviceMonitor(clusters map[string]*cluster) *unstructured.Unstructured {
	labels := map[string]any{o.config.LabelKey: o.config.Label}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": ServiceMonitorGVR.GroupVersion().String(),
		"kind":       "ServiceMonitor",
		"metadata": map[string]any{
			"name":      o.config.ServiceMonitorName,
			"namespace": o.config.Namespace,
			"labels":    labels,
		},
		"spec": map[string]any{
			"endpoints": o.serviceMonitorEndpoints(clusters),
			"selector":  map[string]any{"matchLabels": copyMap(labels)},
		},
	}}
}

// applyServiceMonitor creates the ServiceMonitor or refreshes the
// endpoints of the existing one.
func (o *Operator) applyServiceMonitor(ctx context.Context, clusters map[string]*cluster) error {
	client := o.dynamic.Resource(ServiceMonitorGVR).Namespace(o.config.Namespace)
	name := o.config.ServiceMonitorName

	existing, err := client.Get(ctx, name, metav1.GetOptions{})
	metrics.RecordKubernetesRequest("servicemonitors", "get", ignoreNotFound(err))
	switch {
	case apierrors.IsNotFound(err):
		_, err = client.Create(ctx, o.serviceMonitor(clusters), metav1.CreateOptions{})
		metrics.RecordKubernetesRequest("servicemonitors", "create", err)
		if err != nil {
			return fmt.Errorf("failed to create ServiceMonitor %s: %w", name, err)
		}
		o.logger.Info("Created ServiceMonitor", zap.String("name", name))
		return nil
	case err != nil:
		return fmt.Errorf("failed to get ServiceMonitor %s: %w", name, err)
	}

	if err := unstructured.SetNestedSlice(existing.Object, o.serviceMonitorEndpoints(clusters), "spec", "endpoints"); err != nil {
		return fmt.Errorf("failed to set ServiceMonitor endpoints: %w", err)
	}
	_, err = client.Update(ctx, existing, metav1.UpdateOptions{})
	metrics.RecordKubernetesRequest("servicemonitors", "update", err)
	if err != nil {
		return fmt.Errorf("failed to update ServiceMonitor %s: %w", name, err)
	}
	o.logger.Info("Updated ServiceMonitor", zap.String("name", name))
	return nil
}

func (o *Operator) deleteServiceMonitor(ctx context.Context) error {
	err := o.dynamic.Resource(ServiceMonitorGVR).Namespace(o.config.Namespace).
		Delete(ctx, o.config.ServiceMonitorName, metav1.DeleteOptions{})
	metrics.RecordKubernetesRequest("servicemonitors", "delete", ignoreNotFound(err))
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func ignoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
