package lbaas

import (
	"context"
	"errors"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kuryr/kuryr-controller/pkg/k8sclient"
	"github.com/kuryr/kuryr-controller/pkg/kerrors"
)

// SpecHandler is the LBaaSSpecHandler (C5): it reacts to Service events,
// computes the desired ServiceSpec, and publishes it as an annotation on
// the Service's twin Endpoints resource and on the Service itself.
type SpecHandler struct {
	Client         *k8sclient.Client
	Project        ProjectDriver
	Subnets        SubnetsDriver
	SecurityGroups SecurityGroupsDriver
}

// ObjectKind implements dispatch.ResourceHandler.
func (h *SpecHandler) ObjectKind() string { return "Service" }

// OnPresent implements dispatch.ResourceHandler for ADDED/MODIFIED Service
// events (§4.5).
func (h *SpecHandler) OnPresent(ctx context.Context, raw map[string]any) error {
	svc := k8sclient.Object(raw)

	current, err := UnmarshalServiceSpec([]byte(svc.Annotations()[AnnotationServiceSpec]))
	if err != nil {
		return kerrors.NewIntegrityError("decoding current service spec: %v", err)
	}

	ip, hasIP := serviceClusterIP(svc)
	ports := serviceNormalizedPorts(svc)

	if !needsSpecUpdate(current, ip, hasIP, ports) {
		return nil
	}

	projectID, err := h.Project.GetProject(ctx, svc)
	if err != nil {
		return err
	}

	securityGroupIDs, err := h.SecurityGroups.GetSecurityGroups(ctx, svc, projectID)
	if err != nil {
		return err
	}

	desired := &ServiceSpec{
		SchemaVersion:     SchemaVersion,
		ProjectID:         projectID,
		Ports:             ports,
		SecurityGroupsIDs: SortedSecurityGroups(securityGroupIDs),
	}
	if hasIP {
		desired.IP = ip

		subnetID, err := h.subnetContaining(ctx, svc, projectID, ip)
		if err != nil {
			return err
		}
		desired.SubnetID = subnetID
	}

	endpointsPath, err := EndpointsPathFromServiceSelfLink(svc.SelfLink())
	if err != nil {
		return kerrors.NewIntegrityError("deriving endpoints path from service selfLink %q: %v", svc.SelfLink(), err)
	}

	data, err := MarshalCanonical(desired)
	if err != nil {
		return kerrors.NewIntegrityError("encoding service spec: %v", err)
	}
	value := string(data)

	if _, err := h.Client.Annotate(ctx, endpointsPath, map[string]*string{AnnotationServiceSpec: &value}, nil); err != nil {
		var k8sErr *kerrors.K8sClientError
		if errors.As(err, &k8sErr) {
			klog.V(2).InfoS("endpoints not ready for spec annotation, will retry", "path", endpointsPath, "err", err)
			return kerrors.NewResourceNotReady(endpointsPath)
		}
		return err
	}

	rv := svc.ResourceVersion()
	servicePath := svc.SelfLink()
	if _, err := h.Client.Annotate(ctx, servicePath, map[string]*string{AnnotationServiceSpec: &value}, &rv); err != nil {
		return err
	}

	klog.InfoS("published service spec", "service", servicePath, "endpoints", endpointsPath)
	return nil
}

// OnDeleted implements dispatch.ResourceHandler for DELETED Service events.
// It clears the spec annotation on the twin Endpoints resource so the
// LoadBalancerHandler's gate (§4.6) sees an absent spec and ignores later
// events for that Endpoints; the realized entities are released only by
// LoadBalancerHandler.OnDeleted when the Endpoints resource itself is
// deleted. A failure here is tolerated since the Endpoints resource is
// frequently already gone by the time this runs.
func (h *SpecHandler) OnDeleted(ctx context.Context, raw map[string]any) error {
	svc := k8sclient.Object(raw)

	endpointsPath, err := EndpointsPathFromServiceSelfLink(svc.SelfLink())
	if err != nil {
		return kerrors.NewIntegrityError("deriving endpoints path from service selfLink %q: %v", svc.SelfLink(), err)
	}

	if _, err := h.Client.Annotate(ctx, endpointsPath, map[string]*string{AnnotationServiceSpec: nil}, nil); err != nil {
		klog.V(2).InfoS("could not clear service spec on deleted service, endpoints likely already gone", "endpoints", endpointsPath, "err", err)
	}
	return nil
}

func (h *SpecHandler) subnetContaining(ctx context.Context, svc k8sclient.Object, projectID, ip string) (string, error) {
	candidates, err := h.Subnets.GetSubnets(ctx, svc, projectID)
	if err != nil {
		return "", err
	}
	matches, err := SubnetContaining(candidates, ip)
	if err != nil {
		return "", kerrors.NewIntegrityError("%v", err)
	}
	if len(matches) != 1 {
		return "", kerrors.NewIntegrityError("service ip %s is contained in %d subnets, expected exactly 1", ip, len(matches))
	}
	return matches[0].ID, nil
}

func needsSpecUpdate(current *ServiceSpec, ip string, hasIP bool, ports []PortSpec) bool {
	if current == nil {
		return true
	}
	currentIP := current.IP
	wantIP := ""
	if hasIP {
		wantIP = ip
	}
	if currentIP != wantIP {
		return true
	}
	return !PortsEqual(current.Ports, ports)
}

func serviceClusterIP(svc k8sclient.Object) (string, bool) {
	spec, _ := svc["spec"].(map[string]any)
	if spec == nil {
		return "", false
	}
	svcType, _ := spec["type"].(string)
	if svcType != "" && svcType != "ClusterIP" {
		return "", false
	}
	clusterIP, _ := spec["clusterIP"].(string)
	if clusterIP == "" || clusterIP == "None" {
		return "", false
	}
	return clusterIP, true
}

func serviceNormalizedPorts(svc k8sclient.Object) []PortSpec {
	spec, _ := svc["spec"].(map[string]any)
	if spec == nil {
		return nil
	}
	rawPorts, _ := spec["ports"].([]any)

	ports := make([]PortSpec, 0, len(rawPorts))
	for _, rp := range rawPorts {
		p, _ := rp.(map[string]any)
		if p == nil {
			continue
		}
		name, _ := p["name"].(string)
		protocol, _ := p["protocol"].(string)
		if protocol == "" {
			protocol = "TCP"
		}
		port := int32(0)
		switch v := p["port"].(type) {
		case float64:
			port = int32(v)
		case int:
			port = int32(v)
		}
		ports = append(ports, PortSpec{Name: name, Protocol: protocol, Port: port})
	}
	return ports
}

// EndpointsPathFromServiceSelfLink replaces the last-but-one path segment
// "services" with "endpoints" in a Service's selfLink, per §6. It fails if
// that segment is not "services".
func EndpointsPathFromServiceSelfLink(selfLink string) (string, error) {
	trimmed := strings.TrimSuffix(selfLink, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return "", errors.New("selfLink has too few segments")
	}
	if segments[len(segments)-2] != "services" {
		return "", errors.New("selfLink's last-but-one segment is not \"services\"")
	}
	segments[len(segments)-2] = "endpoints"
	return strings.Join(segments, "/"), nil
}
