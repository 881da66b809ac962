// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"github.com/drone/go-scm/scm"

	"github.com/ando-ci/ando/core"
)

// ConvertRepository builds the skeleton of a core.Project from a forge
// repository, for the project-registration step that follows a GitHub
// App installation event. Callers still need to fill in BranchFilter,
// TimeoutMinutes and RequiredSecrets before persisting it.
func ConvertRepository(src *scm.Repository, installationID string) *core.Project {
	return &core.Project{
		ExternalID:     src.ID,
		Owner:          src.Namespace,
		Name:           src.Name,
		DefaultBranch:  src.Branch,
		InstallationID: installationID,
		TimeoutMinutes: core.DefaultTimeoutMinutes,
	}
}
